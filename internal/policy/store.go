// Пакет policy — версионируемое хранилище правил валидации по странам.
//
// Текущее состояние всех стран — единый документ countries.json;
// история изменений — append-only файлы rules_history/<country>.json,
// по одному снапшоту на версию, в порядке возрастания версий.
// Все записи сериализуются одним мьютексом и выполняются атомарно
// (temp → fsync → rename).
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/storage/jsondoc"
)

// Ошибки хранилища, транслируемые в стабильные коды API.
var (
	// ErrNotFound — страна с таким id не существует
	ErrNotFound = errors.New("страна не найдена")
	// ErrForbidden — у актора нет прав на изменение правил
	ErrForbidden = errors.New("недостаточно прав для изменения правил")
	// ErrEmptyUpdate — в запросе нет ни validator, ни checklist
	ErrEmptyUpdate = errors.New("пустое обновление: нужен validator и/или checklist")
)

// RoleAdmin — роль, необходимая для изменения правил.
const RoleAdmin = "admin"

// CountriesFileName — имя документа текущих правил.
const CountriesFileName = "countries.json"

// HistoryDirName — директория файлов истории правил.
const HistoryDirName = "rules_history"

// Actor — субъект, выполняющий операцию над правилами.
type Actor struct {
	// ID — идентификатор пользователя (sub из JWT)
	ID string
	// Email — email из JWT, записывается в updatedBy
	Email string
	// Role — роль пользователя
	Role string
}

// UpdateRequest — частичное обновление правил страны.
// Присутствующее поле целиком заменяет соответствующее поле текущей
// политики; отсутствующее переносится из предыдущей версии без изменений.
type UpdateRequest struct {
	Validator *model.Validator      `json:"validator,omitempty"`
	Checklist []model.ChecklistItem `json:"checklist,omitempty"`
}

// countriesDoc — формат countries.json.
type countriesDoc struct {
	Countries []*model.Country `json:"countries"`
}

// Store — хранилище правил валидации.
type Store struct {
	countriesPath string
	historyDir    string

	// mu — единственный писатель для countries.json и файлов истории.
	// Append истории выполняется в той же критической секции, что и
	// запись документа, поэтому порядок версий в истории всегда
	// совпадает с документом.
	mu        sync.RWMutex
	countries []*model.Country
	byID      map[string]*model.Country

	logger *slog.Logger
}

// New создаёт Store. Если countries.json отсутствует, записывает
// встроенный набор стран (версия 0).
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		countriesPath: filepath.Join(dataDir, CountriesFileName),
		historyDir:    filepath.Join(dataDir, HistoryDirName),
		byID:          make(map[string]*model.Country),
		logger:        logger.With(slog.String("component", "policy_store")),
	}

	if !jsondoc.Exists(s.countriesPath) {
		seed := countriesDoc{Countries: seedCountries()}
		if err := jsondoc.Write(s.countriesPath, seed); err != nil {
			return nil, fmt.Errorf("ошибка записи начального набора стран: %w", err)
		}
		s.logger.Info("Записан начальный набор стран", slog.Int("countries", len(seed.Countries)))
	}

	var doc countriesDoc
	if err := jsondoc.Read(s.countriesPath, &doc); err != nil {
		return nil, fmt.Errorf("ошибка загрузки countries.json: %w", err)
	}

	s.countries = doc.Countries
	for _, c := range s.countries {
		s.byID[c.ID] = c
	}

	s.logger.Info("Правила стран загружены", slog.Int("countries", len(s.countries)))
	return s, nil
}

// Get возвращает текущую политику страны.
func (s *Store) Get(countryID string) (*model.Country, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[countryID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Update применяет частичное обновление правил страны.
//
// Требует роли admin. Отклоняет пустые обновления. На успехе:
// версия растёт ровно на 1, updatedAt/updatedBy проставляются,
// новый документ сохраняется и в историю добавляется снапшот
// полного слитого состояния. Возвращает номер новой версии.
func (s *Store) Update(countryID string, req UpdateRequest, actor Actor) (int, error) {
	if actor.Role != RoleAdmin {
		return 0, ErrForbidden
	}
	if req.Validator == nil && req.Checklist == nil {
		return 0, ErrEmptyUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[countryID]
	if !ok {
		return 0, ErrNotFound
	}

	updated := current.Clone()
	if req.Validator != nil {
		updated.Validator = req.Validator.Clone()
	}
	if req.Checklist != nil {
		updated.Checklist = append([]model.ChecklistItem(nil), req.Checklist...)
	}
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now().UTC()
	updated.UpdatedBy = actor.Email

	// Собираем новый документ, не трогая текущее состояние в памяти:
	// при ошибке записи предыдущая версия остаётся действующей.
	next := make([]*model.Country, len(s.countries))
	for i, c := range s.countries {
		if c.ID == countryID {
			next[i] = updated
		} else {
			next[i] = c
		}
	}

	if err := jsondoc.Write(s.countriesPath, countriesDoc{Countries: next}); err != nil {
		return 0, err
	}

	s.countries = next
	s.byID[countryID] = updated

	if err := s.appendHistoryLocked(countryID, model.PolicyHistoryEntry{
		Version:   updated.Version,
		UpdatedAt: updated.UpdatedAt,
		Validator: updated.Validator,
		Checklist: updated.Checklist,
		UpdatedBy: actor.Email,
	}); err != nil {
		// Политика уже применена; незаписанный снапшот истории —
		// ошибка хранилища, которую видит вызывающий код.
		return 0, err
	}

	s.logger.Info("Правила страны обновлены",
		slog.String("country", countryID),
		slog.Int("version", updated.Version),
		slog.String("updated_by", actor.Email),
	)

	return updated.Version, nil
}

// ListHistory возвращает историю правил страны, старые версии первыми.
// Для существующей страны без обновлений возвращает пустой список.
func (s *Store) ListHistory(countryID string) ([]model.PolicyHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[countryID]; !ok {
		return nil, ErrNotFound
	}

	path := s.historyPath(countryID)
	if !jsondoc.Exists(path) {
		return []model.PolicyHistoryEntry{}, nil
	}

	var history []model.PolicyHistoryEntry
	if err := jsondoc.Read(path, &history); err != nil {
		return nil, fmt.Errorf("ошибка чтения истории правил %s: %w", countryID, err)
	}
	return history, nil
}

// appendHistoryLocked добавляет снапшот в файл истории страны.
// Вызывается только под s.mu.
func (s *Store) appendHistoryLocked(countryID string, entry model.PolicyHistoryEntry) error {
	path := s.historyPath(countryID)

	var history []model.PolicyHistoryEntry
	if jsondoc.Exists(path) {
		if err := jsondoc.Read(path, &history); err != nil {
			return fmt.Errorf("ошибка чтения истории правил %s: %w", countryID, err)
		}
	}

	history = append(history, entry)
	if err := jsondoc.Write(path, history); err != nil {
		return fmt.Errorf("ошибка записи истории правил %s: %w", countryID, err)
	}
	return nil
}

// historyPath возвращает путь файла истории страны.
func (s *Store) historyPath(countryID string) string {
	return filepath.Join(s.historyDir, countryID+".json")
}
