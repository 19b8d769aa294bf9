package dossier

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/storage/blobstore"
	"github.com/bigkaa/visadossier/internal/storage/jsondoc"
	"github.com/bigkaa/visadossier/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestBlobs(t *testing.T) *blobstore.Store {
	t.Helper()

	walEngine, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Не удалось создать WAL: %v", err)
	}
	blobs, err := blobstore.New(t.TempDir(), t.TempDir(), "test", walEngine, testLogger())
	if err != nil {
		t.Fatalf("Не удалось создать blobstore: %v", err)
	}
	return blobs
}

func newTestStore(t *testing.T, foreign ForeignBlobPolicy) (*Store, *blobstore.Store, string) {
	t.Helper()

	dataDir := t.TempDir()
	blobs := newTestBlobs(t)
	s, err := New(dataDir, blobs, foreign, testLogger())
	if err != nil {
		t.Fatalf("Не удалось создать Store: %v", err)
	}
	return s, blobs, dataDir
}

func putBlob(t *testing.T, blobs *blobstore.Store, owner, itemID string, data []byte) *model.BlobRecord {
	t.Helper()

	record, err := blobs.Put(data, blobstore.PutParams{
		OwnerID:         owner,
		CountryID:       "de",
		DocType:         "photo",
		ChecklistItemID: itemID,
		OriginalName:    itemID + ".jpg",
		MimeType:        "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Put блоба вернул ошибку: %v", err)
	}
	return record
}

func TestCreate_PersistsRecordAndIndex(t *testing.T) {
	s, _, dataDir := newTestStore(t, OmitForeign)

	checklist := []model.ChecklistItem{
		{ItemID: "photo", Label: "Фото", Required: true, DocType: "photo"},
		{ItemID: "passport", Label: "Паспорт", Required: true, DocType: "passport"},
	}

	record, err := s.Create("user-1", "de", checklist)
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	if record.ID == "" {
		t.Error("У досье пустой ID")
	}
	if record.OwnerID != "user-1" || record.CountryID != "de" {
		t.Errorf("Метаданные досье: %+v", record)
	}
	if len(record.Checklist) != 2 {
		t.Errorf("Checklist содержит %d пунктов, ожидалось 2", len(record.Checklist))
	}
	if record.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	recordPath := filepath.Join(dataDir, "dossiers", record.ID+".json")
	if !jsondoc.Exists(recordPath) {
		t.Error("Файл досье не создан")
	}
	if !jsondoc.Exists(filepath.Join(dataDir, "dossiers", IndexFileName)) {
		t.Error("Индексный документ не создан")
	}
}

func TestCreate_SnapshotIsolated(t *testing.T) {
	s, _, _ := newTestStore(t, OmitForeign)

	checklist := []model.ChecklistItem{
		{ItemID: "photo", Label: "Фото", DocType: "photo"},
	}

	record, err := s.Create("user-1", "de", checklist)
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	// Мутация исходного слайса не должна влиять на снапшот
	checklist[0].Label = "hacked"

	got, err := s.Get(record.ID, "user-1")
	if err != nil {
		t.Fatalf("Get вернул ошибку: %v", err)
	}
	if got.Checklist[0].Label != "Фото" {
		t.Error("Снапшот чек-листа разделяет память с исходным слайсом")
	}
}

func TestGet_OwnerChecks(t *testing.T) {
	s, _, _ := newTestStore(t, OmitForeign)

	record, err := s.Create("user-1", "de", nil)
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	if _, err := s.Get("no-such-id", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Неизвестный id: ожидался ErrNotFound, получено %v", err)
	}
	if _, err := s.Get(record.ID, "user-2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Чужое досье: ожидался ErrForbidden, получено %v", err)
	}
	if _, err := s.Get(record.ID, "user-1"); err != nil {
		t.Errorf("Владелец не смог прочитать своё досье: %v", err)
	}
}

func TestReload_FromIndex(t *testing.T) {
	dataDir := t.TempDir()
	blobs := newTestBlobs(t)

	s1, err := New(dataDir, blobs, OmitForeign, testLogger())
	if err != nil {
		t.Fatalf("Не удалось создать Store: %v", err)
	}

	record, err := s1.Create("user-1", "fr", nil)
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	s2, err := New(dataDir, blobs, OmitForeign, testLogger())
	if err != nil {
		t.Fatalf("Не удалось пересоздать Store: %v", err)
	}

	got, err := s2.Get(record.ID, "user-1")
	if err != nil {
		t.Fatalf("Досье не пережило перезагрузку индекса: %v", err)
	}
	if got.CountryID != "fr" {
		t.Errorf("CountryID = %s, ожидался fr", got.CountryID)
	}
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Архив не читается: %v", err)
	}

	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Запись %s не открывается: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Запись %s не читается: %v", f.Name, err)
		}
		entries[f.Name] = content
	}
	return entries
}

func TestExport_ArchiveContents(t *testing.T) {
	s, blobs, _ := newTestStore(t, OmitForeign)

	photo := putBlob(t, blobs, "user-1", "photo", []byte("photo bytes"))
	passport := putBlob(t, blobs, "user-1", "passport", []byte("passport bytes"))

	record, err := s.Create("user-1", "de", []model.ChecklistItem{
		{ItemID: "photo", Label: "Фото", DocType: "photo", BlobID: photo.ID},
		{ItemID: "passport", Label: "Паспорт", DocType: "passport", BlobID: passport.ID},
		{ItemID: "insurance", Label: "Страховка", DocType: "insurance"}, // без файла
	})
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, record.ID, "user-1"); err != nil {
		t.Fatalf("Export вернул ошибку: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 3 {
		t.Fatalf("Архив содержит %d записей, ожидалось 3 (manifest + 2 файла)", len(entries))
	}

	manifestData, ok := entries["manifest.json"]
	if !ok {
		t.Fatal("В архиве нет manifest.json")
	}
	var m manifest
	if err := json.Unmarshal(manifestData, &m); err != nil {
		t.Fatalf("manifest.json не парсится: %v", err)
	}
	if m.ID != record.ID || m.CountryID != "de" {
		t.Errorf("Манифест: %+v", m)
	}
	if len(m.Checklist) != 3 {
		t.Errorf("Манифест содержит %d пунктов, ожидалось 3", len(m.Checklist))
	}

	// Путь записи следует docType блоба, расширение — локатору
	if got := entries["files/photo/photo.jpg"]; string(got) != "photo bytes" {
		t.Errorf("files/photo/photo.jpg = %q", got)
	}
	if got := entries["files/photo/passport.jpg"]; string(got) != "passport bytes" {
		t.Errorf("files/photo/passport.jpg = %q", got)
	}
}

func TestExport_OwnerChecks(t *testing.T) {
	s, _, _ := newTestStore(t, OmitForeign)

	record, err := s.Create("user-1", "de", nil)
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, "no-such-id", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Неизвестный id: ожидался ErrNotFound, получено %v", err)
	}
	if err := s.Export(&buf, record.ID, "user-2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Чужое досье: ожидался ErrForbidden, получено %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Отклонённый экспорт записал %d байт", buf.Len())
	}
}

func TestExport_OmitForeignBlob(t *testing.T) {
	s, blobs, _ := newTestStore(t, OmitForeign)

	mine := putBlob(t, blobs, "user-1", "photo", []byte("mine"))
	foreign := putBlob(t, blobs, "user-2", "passport", []byte("not yours"))

	record, err := s.Create("user-1", "de", []model.ChecklistItem{
		{ItemID: "photo", DocType: "photo", BlobID: mine.ID},
		{ItemID: "passport", DocType: "passport", BlobID: foreign.ID},
		{ItemID: "ghost", DocType: "photo", BlobID: "no-such-blob"},
	})
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, record.ID, "user-1"); err != nil {
		t.Fatalf("Export вернул ошибку: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("Архив содержит %d записей, ожидалось 2 (manifest + свой файл)", len(entries))
	}
	if _, ok := entries["files/photo/photo.jpg"]; !ok {
		t.Error("Собственный файл не попал в архив")
	}
	for name := range entries {
		if bytes.Contains(entries[name], []byte("not yours")) {
			t.Errorf("Чужие байты утекли в запись %s", name)
		}
	}
}

func TestExport_FailForeignBlob(t *testing.T) {
	s, blobs, _ := newTestStore(t, FailForeign)

	foreign := putBlob(t, blobs, "user-2", "passport", []byte("not yours"))

	record, err := s.Create("user-1", "de", []model.ChecklistItem{
		{ItemID: "passport", DocType: "passport", BlobID: foreign.ID},
	})
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, record.ID, "user-1"); !errors.Is(err, ErrForeignBlob) {
		t.Fatalf("Ожидался ErrForeignBlob, получено %v", err)
	}
	// Отказ до записи первого байта
	if buf.Len() != 0 {
		t.Errorf("Отклонённый экспорт записал %d байт", buf.Len())
	}
}

func TestExport_FailPolicyIgnoresUnresolvable(t *testing.T) {
	s, _, _ := newTestStore(t, FailForeign)

	record, err := s.Create("user-1", "de", []model.ChecklistItem{
		{ItemID: "ghost", DocType: "photo", BlobID: "no-such-blob"},
	})
	if err != nil {
		t.Fatalf("Create вернул ошибку: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, record.ID, "user-1"); err != nil {
		t.Fatalf("Неразрешимая ссылка не должна ломать экспорт: %v", err)
	}

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 1 {
		t.Errorf("Архив содержит %d записей, ожидался только manifest", len(entries))
	}
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2025, 3, 7, 15, 30, 0, 0, time.UTC)
	got := ExportFilename("de", now)
	want := "dossier-de-2025-03-07.zip"
	if got != want {
		t.Errorf("ExportFilename = %s, ожидалось %s", got, want)
	}
}

func TestArchiveEntryName_Fallbacks(t *testing.T) {
	rec := &model.BlobRecord{
		ID:              "blob-1",
		DocType:         "photo",
		ChecklistItemID: "from-record",
		StorageLocator:  "test/user-1/de/photo/blob-1/original.png",
	}

	// Приоритет: item.ItemID → rec.ChecklistItemID → rec.ID
	if got := archiveEntryName(rec, model.ChecklistItem{ItemID: "photo"}); got != "files/photo/photo.png" {
		t.Errorf("archiveEntryName = %s", got)
	}
	if got := archiveEntryName(rec, model.ChecklistItem{}); got != "files/photo/from-record.png" {
		t.Errorf("archiveEntryName = %s", got)
	}

	rec.ChecklistItemID = ""
	rec.StorageLocator = "no-extension"
	if got := archiveEntryName(rec, model.ChecklistItem{}); got != "files/photo/blob-1.bin" {
		t.Errorf("archiveEntryName = %s", got)
	}
}
