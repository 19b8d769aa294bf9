// Пакет blobstore — хранилище загруженных файлов под непрозрачными id.
//
// Байты лежат на диске в иерархии {env}/{owner}/{country}/{docType}/{id},
// метаданные — в едином индексном документе uploads_index.json.
// Индекс загружается в память при старте и обновляется синхронно;
// все записи индекса сериализуются одним мьютексом и выполняются
// атомарно (temp → fsync → rename), так что неудачная запись оставляет
// предыдущую валидную версию.
//
// Проверка владельца выполняется внутри хранилища (OpenForOwner), а не
// только на транспортной границе: неизвестный id и чужой id неотличимы
// для вызывающего кода.
package blobstore

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/storage/jsondoc"
	"github.com/bigkaa/visadossier/internal/storage/wal"
)

// IndexFileName — имя индексного документа в директории данных.
const IndexFileName = "uploads_index.json"

// Store — хранилище блобов: байты на диске + индекс метаданных.
type Store struct {
	// uploadDir — корневая директория байтов (VD_UPLOAD_DIR)
	uploadDir string
	// env — пространство имён развёртывания (VD_ENV)
	env string
	// indexPath — путь к uploads_index.json
	indexPath string
	// walEngine — WAL для транзакций записи
	walEngine *wal.WAL

	// mu защищает records и запись индексного документа
	mu      sync.RWMutex
	records map[string]*model.BlobRecord

	logger *slog.Logger
}

// indexDoc — формат uploads_index.json.
type indexDoc struct {
	Files map[string]*model.BlobRecord `json:"files"`
}

// PutParams — метаданные загружаемого файла.
type PutParams struct {
	// OwnerID — идентификатор владельца (sub из JWT)
	OwnerID string
	// CountryID — страна, для которой загружается документ
	CountryID string
	// DocType — тип документа
	DocType string
	// ChecklistItemID — пункт чек-листа (опционально)
	ChecklistItemID string
	// OriginalName — оригинальное имя файла
	OriginalName string
	// MimeType — заявленный MIME-тип
	MimeType string
}

// New создаёт Store и загружает индекс с диска (если он существует).
func New(uploadDir, dataDir, env string, walEngine *wal.WAL, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(uploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", uploadDir, err)
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	s := &Store{
		uploadDir: uploadDir,
		env:       env,
		indexPath: filepath.Join(dataDir, IndexFileName),
		walEngine: walEngine,
		records:   make(map[string]*model.BlobRecord),
		logger:    logger.With(slog.String("component", "blobstore")),
	}

	if jsondoc.Exists(s.indexPath) {
		var doc indexDoc
		if err := jsondoc.Read(s.indexPath, &doc); err != nil {
			return nil, fmt.Errorf("ошибка загрузки индекса блобов: %w", err)
		}
		if doc.Files != nil {
			s.records = doc.Files
		}
	}

	s.logger.Info("Индекс блобов загружен", slog.Int("files", len(s.records)))
	return s, nil
}

// Recover откатывает незавершённые WAL-транзакции создания блобов:
// удаляет осиротевшие директории и записи индекса. Вызывается при старте.
func (s *Store) Recover() error {
	pending, err := s.walEngine.RecoverPending()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Operation != wal.OpBlobCreate {
			continue
		}

		if entry.StorageDir != "" {
			dir := filepath.Join(s.uploadDir, entry.StorageDir)
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Error("Не удалось удалить осиротевшую директорию блоба",
					slog.String("dir", dir),
					slog.String("error", err.Error()),
				)
			}
		}

		s.mu.Lock()
		if _, ok := s.records[entry.BlobID]; ok {
			delete(s.records, entry.BlobID)
			if err := s.writeIndexLocked(); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		s.mu.Unlock()

		if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
			s.logger.Error("Ошибка отката WAL-транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("Незавершённая загрузка откачена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("blob_id", entry.BlobID),
		)
	}

	return nil
}

// Put сохраняет байты и создаёт новую запись блоба. Каждая загрузка —
// новая запись: перезаписи по ключу не существует.
//
// Поток: WAL pending → байты на диск (temp → fsync → rename) →
// запись в индекс → WAL commit. При ошибке — cleanup + WAL rollback.
func (s *Store) Put(data []byte, params PutParams) (*model.BlobRecord, error) {
	id := uuid.New().String()
	ext := extensionFor(params.MimeType, params.OriginalName)

	relDir := filepath.Join(
		sanitizeSegment(s.env),
		sanitizeSegment(params.OwnerID),
		sanitizeSegment(params.CountryID),
		sanitizeSegment(params.DocType),
		id,
	)
	relPath := filepath.Join(relDir, "original."+ext)

	walEntry, err := s.walEngine.StartTransaction(wal.OpBlobCreate, id, relDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания WAL-транзакции: %w", err)
	}

	rollback := func() {
		_ = os.RemoveAll(filepath.Join(s.uploadDir, relDir))
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	if err := s.writeBlobFile(relPath, data); err != nil {
		rollback()
		return nil, err
	}

	record := &model.BlobRecord{
		ID:              id,
		OwnerID:         params.OwnerID,
		CountryID:       params.CountryID,
		DocType:         params.DocType,
		ChecklistItemID: params.ChecklistItemID,
		OriginalName:    params.OriginalName,
		MimeType:        params.MimeType,
		SizeBytes:       int64(len(data)),
		StorageLocator:  relPath,
		CreatedAt:       time.Now().UTC(),
	}

	s.mu.Lock()
	s.records[id] = record
	if err := s.writeIndexLocked(); err != nil {
		delete(s.records, id)
		s.mu.Unlock()
		rollback()
		return nil, err
	}
	s.mu.Unlock()

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		// Данные уже записаны, коммит WAL — best effort
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("blob_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Блоб сохранён",
		slog.String("blob_id", id),
		slog.String("owner", params.OwnerID),
		slog.String("country", params.CountryID),
		slog.String("doc_type", params.DocType),
		slog.Int64("size", record.SizeBytes),
	)

	copied := *record
	return &copied, nil
}

// Get возвращает запись блоба по id или nil, если запись не найдена.
func (s *Store) Get(id string) *model.BlobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil
	}
	copied := *record
	return &copied
}

// OpenForOwner открывает содержимое блоба для владельца.
// Возвращает (nil, "", nil) и когда id неизвестен, и когда владелец
// не совпал — вызывающий код не может различить эти случаи.
// Ошибка возвращается только при сбое чтения с диска.
func (s *Store) OpenForOwner(id, requestingOwnerID string) (io.ReadSeekCloser, string, error) {
	record := s.Get(id)
	if record == nil || record.OwnerID != requestingOwnerID {
		return nil, "", nil
	}

	f, err := os.Open(filepath.Join(s.uploadDir, record.StorageLocator))
	if err != nil {
		s.logger.Error("Блоб не читается с диска",
			slog.String("blob_id", id),
			slog.String("path", record.StorageLocator),
			slog.String("error", err.Error()),
		)
		return nil, "", fmt.Errorf("ошибка открытия блоба %s: %w", id, err)
	}

	mimeType := record.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return f, mimeType, nil
}

// ListByOwner возвращает записи владельца (новые первые).
func (s *Store) ListByOwner(ownerID string) []*model.BlobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.BlobRecord
	for _, record := range s.records {
		if record.OwnerID != ownerID {
			continue
		}
		copied := *record
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Count возвращает общее количество записей в индексе.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// writeIndexLocked атомарно записывает индексный документ.
// Вызывается только под s.mu.
func (s *Store) writeIndexLocked() error {
	if err := jsondoc.Write(s.indexPath, indexDoc{Files: s.records}); err != nil {
		return fmt.Errorf("ошибка записи индекса блобов: %w", err)
	}
	return nil
}

// writeBlobFile записывает байты блоба по паттерну
// temp файл → fsync → atomic rename.
func (s *Store) writeBlobFile(relPath string, data []byte) error {
	fullPath := filepath.Join(s.uploadDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию блоба: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// wellKnownExtensions — детерминированный выбор расширения для
// распространённых MIME-типов (mime.ExtensionsByType возвращает
// алфавитный список, где первым для image/jpeg идёт ".jpe").
var wellKnownExtensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
	"application/pdf": "pdf",
}

// extensionFor выводит расширение файла из MIME-типа с фолбэком
// на расширение оригинального имени, затем на "bin".
func extensionFor(mimeType, originalName string) string {
	mt := mimeType
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = strings.TrimSpace(mt[:idx])
	}

	if ext, ok := wellKnownExtensions[strings.ToLower(mt)]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	if ext := strings.TrimPrefix(filepath.Ext(originalName), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return "bin"
}

// sanitizeSegment убирает небезопасные символы из сегмента пути.
// Оставляет буквы, цифры, дефис, подчёркивание и точку (не в начале).
func sanitizeSegment(s string) string {
	var result strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			result.WriteRune(r)
		case r == '.' && i > 0:
			result.WriteRune(r)
		}
	}
	out := result.String()
	if strings.Trim(out, ".") == "" {
		return "unknown"
	}
	return out
}
