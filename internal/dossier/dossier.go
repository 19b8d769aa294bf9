// Пакет dossier — сборка снапшотов чек-листа и потоковый экспорт ZIP.
//
// Запись досье — файл dossiers/<id>.json; индекс dossiers/index.json
// отображает id → {путь, владелец}. Запись индекса сериализуется
// мьютексом и выполняется атомарно.
//
// Экспорт пишет архив инкрементально прямо в переданный writer:
// сначала manifest.json, затем по одной записи на пункт чек-листа
// с разрешимой, принадлежащей владельцу ссылкой на блоб. Владение
// каждым блобом перепроверяется внутри Blob Store (OpenForOwner),
// а не только на границе запроса.
package dossier

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/storage/blobstore"
	"github.com/bigkaa/visadossier/internal/storage/jsondoc"
)

// Ошибки, транслируемые в стабильные коды API.
var (
	// ErrNotFound — досье с таким id не существует
	ErrNotFound = errors.New("досье не найдено")
	// ErrForbidden — досье принадлежит другому пользователю
	ErrForbidden = errors.New("досье принадлежит другому пользователю")
	// ErrForeignBlob — чек-лист ссылается на чужой блоб
	// (возвращается только при политике экспорта "fail")
	ErrForeignBlob = errors.New("чек-лист ссылается на чужой файл")
)

// ForeignBlobPolicy — поведение экспорта при ссылке на чужой блоб.
// Исходная система молча пропускала такие записи; выбор поведения
// вынесен в конфигурацию (VD_EXPORT_FOREIGN_BLOBS).
type ForeignBlobPolicy string

const (
	// OmitForeign — молча пропустить запись (поведение по умолчанию)
	OmitForeign ForeignBlobPolicy = "omit"
	// FailForeign — отклонить экспорт целиком до записи первого байта
	FailForeign ForeignBlobPolicy = "fail"
)

// IndexFileName — имя индексного документа досье.
const IndexFileName = "index.json"

// indexEntry — запись индекса досье.
type indexEntry struct {
	Path    string `json:"path"`
	OwnerID string `json:"userId"`
}

// indexDoc — формат dossiers/index.json.
type indexDoc struct {
	Dossiers map[string]indexEntry `json:"dossiers"`
}

// manifest — содержимое manifest.json внутри архива.
type manifest struct {
	ID        string                `json:"id"`
	CountryID string                `json:"countryId"`
	CreatedAt time.Time             `json:"createdAt"`
	Checklist []model.ChecklistItem `json:"checklist"`
}

// Store — хранилище досье и экспортёр архивов.
type Store struct {
	dir       string
	indexPath string
	blobs     *blobstore.Store
	foreign   ForeignBlobPolicy

	// mu защищает index и запись индексного документа
	mu    sync.RWMutex
	index map[string]indexEntry

	logger *slog.Logger
}

// New создаёт Store и загружает индекс досье с диска (если существует).
func New(dataDir string, blobs *blobstore.Store, foreign ForeignBlobPolicy, logger *slog.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "dossiers")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию досье %s: %w", dir, err)
	}

	s := &Store{
		dir:       dir,
		indexPath: filepath.Join(dir, IndexFileName),
		blobs:     blobs,
		foreign:   foreign,
		index:     make(map[string]indexEntry),
		logger:    logger.With(slog.String("component", "dossier_store")),
	}

	if jsondoc.Exists(s.indexPath) {
		var doc indexDoc
		if err := jsondoc.Read(s.indexPath, &doc); err != nil {
			return nil, fmt.Errorf("ошибка загрузки индекса досье: %w", err)
		}
		if doc.Dossiers != nil {
			s.index = doc.Dossiers
		}
	}

	s.logger.Info("Индекс досье загружен", slog.Int("dossiers", len(s.index)))
	return s, nil
}

// Create сохраняет снапшот чек-листа как новое досье.
// Идентификатор — UUID v4: связка владелец+timestamp из исходной
// системы заменена на стойкий к коллизиям генератор.
func (s *Store) Create(ownerID, countryID string, checklist []model.ChecklistItem) (*model.DossierRecord, error) {
	record := &model.DossierRecord{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		CountryID: countryID,
		Checklist: append([]model.ChecklistItem(nil), checklist...),
		CreatedAt: time.Now().UTC(),
	}

	recordPath := filepath.Join(s.dir, record.ID+".json")
	if err := jsondoc.Write(recordPath, record); err != nil {
		return nil, fmt.Errorf("ошибка записи досье: %w", err)
	}

	s.mu.Lock()
	s.index[record.ID] = indexEntry{Path: recordPath, OwnerID: ownerID}
	if err := s.writeIndexLocked(); err != nil {
		delete(s.index, record.ID)
		s.mu.Unlock()
		os.Remove(recordPath)
		return nil, err
	}
	s.mu.Unlock()

	s.logger.Info("Досье создано",
		slog.String("dossier_id", record.ID),
		slog.String("owner", ownerID),
		slog.String("country", countryID),
		slog.Int("items", len(record.Checklist)),
	)

	return record, nil
}

// Get возвращает досье владельцу. ErrNotFound для неизвестного id,
// ErrForbidden для чужого досье.
func (s *Store) Get(dossierID, requestingOwnerID string) (*model.DossierRecord, error) {
	s.mu.RLock()
	meta, ok := s.index[dossierID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if meta.OwnerID != requestingOwnerID {
		return nil, ErrForbidden
	}

	var record model.DossierRecord
	if err := jsondoc.Read(meta.Path, &record); err != nil {
		return nil, fmt.Errorf("ошибка чтения досье %s: %w", dossierID, err)
	}
	return &record, nil
}

// Export пишет ZIP-архив досье в w: manifest.json, затем по записи
// files/{docType}/{itemId}{ext} на каждый пункт с принадлежащим
// владельцу блобом.
//
// Проверки NOT_FOUND/FORBIDDEN (и, при политике "fail", владение всеми
// блобами) выполняются до записи первого байта. Ошибка после начала
// записи обрывает поток — откатить начатый ответ уже нельзя, вызывающий
// повторяет экспорт целиком.
func (s *Store) Export(w io.Writer, dossierID, requestingOwnerID string) error {
	record, err := s.Get(dossierID, requestingOwnerID)
	if err != nil {
		return err
	}

	if s.foreign == FailForeign {
		for _, item := range record.Checklist {
			if item.BlobID == "" {
				continue
			}
			if rec := s.blobs.Get(item.BlobID); rec != nil && rec.OwnerID != requestingOwnerID {
				return ErrForeignBlob
			}
		}
	}

	zw := zip.NewWriter(w)

	manifestData, err := json.MarshalIndent(manifest{
		ID:        record.ID,
		CountryID: record.CountryID,
		CreatedAt: record.CreatedAt,
		Checklist: record.Checklist,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации манифеста: %w", err)
	}

	mw, err := zw.Create("manifest.json")
	if err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}
	if _, err := mw.Write(manifestData); err != nil {
		return fmt.Errorf("ошибка записи манифеста: %w", err)
	}

	included := 0
	for _, item := range record.Checklist {
		if item.BlobID == "" {
			continue
		}

		rec := s.blobs.Get(item.BlobID)
		if rec == nil {
			// Неразрешимая ссылка пропускается без ошибки
			continue
		}

		// Владение перепроверяется внутри Blob Store; чужой блоб
		// возвращает nil и при политике omit молча пропускается.
		f, _, err := s.blobs.OpenForOwner(item.BlobID, requestingOwnerID)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}

		name := archiveEntryName(rec, item)
		ew, err := zw.Create(name)
		if err != nil {
			f.Close()
			return fmt.Errorf("ошибка создания записи архива %s: %w", name, err)
		}
		if _, err := io.Copy(ew, f); err != nil {
			f.Close()
			return fmt.Errorf("ошибка записи %s в архив: %w", name, err)
		}
		f.Close()
		included++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("ошибка финализации архива: %w", err)
	}

	s.logger.Info("Досье экспортировано",
		slog.String("dossier_id", dossierID),
		slog.String("owner", requestingOwnerID),
		slog.Int("files", included),
	)

	return nil
}

// ExportFilename возвращает имя файла архива для Content-Disposition:
// dossier-<country>-<YYYY-MM-DD>.zip.
func ExportFilename(countryID string, now time.Time) string {
	return fmt.Sprintf("dossier-%s-%s.zip", countryID, now.UTC().Format("2006-01-02"))
}

// archiveEntryName строит путь записи внутри архива:
// files/{docType}/{itemId}{ext}; расширение берётся из локатора блоба.
func archiveEntryName(rec *model.BlobRecord, item model.ChecklistItem) string {
	itemID := item.ItemID
	if itemID == "" {
		itemID = rec.ChecklistItemID
	}
	if itemID == "" {
		itemID = rec.ID
	}

	ext := filepath.Ext(rec.StorageLocator)
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("files/%s/%s%s", rec.DocType, itemID, ext)
}

// writeIndexLocked атомарно записывает индексный документ.
// Вызывается только под s.mu.
func (s *Store) writeIndexLocked() error {
	if err := jsondoc.Write(s.indexPath, indexDoc{Dossiers: s.index}); err != nil {
		return fmt.Errorf("ошибка записи индекса досье: %w", err)
	}
	return nil
}
