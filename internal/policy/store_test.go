package policy

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/visadossier/internal/domain/model"
	"github.com/bigkaa/visadossier/internal/storage/jsondoc"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

var adminActor = Actor{ID: "admin-1", Email: "admin@example.com", Role: RoleAdmin}

// TestNew_SeedsCountries проверяет запись начального набора стран
// при первом старте.
func TestNew_SeedsCountries(t *testing.T) {
	dataDir := t.TempDir()

	s, err := New(dataDir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	if !jsondoc.Exists(filepath.Join(dataDir, CountriesFileName)) {
		t.Error("countries.json должен быть создан при первом старте")
	}

	for _, id := range []string{"de", "fr", "es"} {
		country, err := s.Get(id)
		if err != nil {
			t.Errorf("страна %s должна присутствовать в начальном наборе: %v", id, err)
			continue
		}
		if country.Version != 0 {
			t.Errorf("начальная версия страны %s должна быть 0, получено %d", id, country.Version)
		}
		if country.Validator == nil {
			t.Errorf("страна %s без валидатора", id)
		}
		if len(country.Checklist) == 0 {
			t.Errorf("страна %s без чек-листа", id)
		}
	}
}

// TestGet_NotFound проверяет ошибку для неизвестной страны.
func TestGet_NotFound(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	_, err = s.Get("xx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestGet_ReturnsCopy проверяет, что Get отдаёт копию:
// мутация результата не видна следующим читателям.
func TestGet_ReturnsCopy(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	first, err := s.Get("de")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	first.Checklist[0].Label = "испорчено"
	first.Validator.MaxSizeBytes = 1

	second, err := s.Get("de")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if second.Checklist[0].Label == "испорчено" {
		t.Error("мутация чек-листа из Get не должна влиять на хранилище")
	}
	if second.Validator.MaxSizeBytes == 1 {
		t.Error("мутация валидатора из Get не должна влиять на хранилище")
	}
}

// TestUpdate_ChecklistOnly проверяет частичное обновление:
// валидатор переносится без изменений, версия растёт на 1.
func TestUpdate_ChecklistOnly(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	before, _ := s.Get("de")

	newChecklist := []model.ChecklistItem{
		{ItemID: "photo", Label: "Новое фото", Required: true, DocType: "photo"},
	}
	version, err := s.Update("de", UpdateRequest{Checklist: newChecklist}, adminActor)
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if version != before.Version+1 {
		t.Errorf("ожидалась версия %d, получена %d", before.Version+1, version)
	}

	after, _ := s.Get("de")
	if len(after.Checklist) != 1 || after.Checklist[0].Label != "Новое фото" {
		t.Errorf("чек-лист не заменён: %+v", after.Checklist)
	}
	if after.Validator.MaxSizeBytes != before.Validator.MaxSizeBytes {
		t.Error("валидатор должен переноситься без изменений при обновлении только чек-листа")
	}
	if after.Validator.AspectRatio != before.Validator.AspectRatio {
		t.Error("валидатор должен переноситься без изменений при обновлении только чек-листа")
	}
	if after.UpdatedBy != adminActor.Email {
		t.Errorf("updatedBy должен быть %q, получено %q", adminActor.Email, after.UpdatedBy)
	}
	if after.UpdatedAt.IsZero() {
		t.Error("updatedAt должен проставляться при обновлении")
	}
}

// TestUpdate_ValidatorOnly проверяет, что чек-лист переносится
// при обновлении только валидатора.
func TestUpdate_ValidatorOnly(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	before, _ := s.Get("fr")

	newValidator := &model.Validator{
		FileTypes:    []string{"png"},
		MaxSizeBytes: 2097152,
	}
	if _, err := s.Update("fr", UpdateRequest{Validator: newValidator}, adminActor); err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}

	after, _ := s.Get("fr")
	if after.Validator.MaxSizeBytes != 2097152 {
		t.Errorf("валидатор не заменён: %+v", after.Validator)
	}
	if len(after.Checklist) != len(before.Checklist) {
		t.Error("чек-лист должен переноситься без изменений при обновлении только валидатора")
	}
}

// TestUpdate_Empty проверяет отклонение пустого обновления:
// ни версия, ни состояние не меняются.
func TestUpdate_Empty(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	before, _ := s.Get("de")

	_, err = s.Update("de", UpdateRequest{}, adminActor)
	if !errors.Is(err, ErrEmptyUpdate) {
		t.Errorf("ожидалась ErrEmptyUpdate, получено: %v", err)
	}

	after, _ := s.Get("de")
	if after.Version != before.Version {
		t.Errorf("версия не должна меняться при отклонённом обновлении: %d → %d", before.Version, after.Version)
	}
}

// TestUpdate_NonAdmin проверяет запрет обновления без роли admin.
func TestUpdate_NonAdmin(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	user := Actor{ID: "user-1", Email: "user@example.com", Role: "user"}
	_, err = s.Update("de", UpdateRequest{Checklist: []model.ChecklistItem{{ItemID: "x"}}}, user)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("ожидалась ErrForbidden, получено: %v", err)
	}
}

// TestUpdate_UnknownCountry проверяет обновление несуществующей страны.
func TestUpdate_UnknownCountry(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	_, err = s.Update("xx", UpdateRequest{Checklist: []model.ChecklistItem{{ItemID: "x"}}}, adminActor)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestListHistory проверяет append-only историю: по снапшоту на версию,
// старые версии первыми.
func TestListHistory(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	history, err := s.ListHistory("de")
	if err != nil {
		t.Fatalf("ошибка чтения истории: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("история страны без обновлений должна быть пустой, получено %d записей", len(history))
	}

	for i := 0; i < 3; i++ {
		_, err := s.Update("de", UpdateRequest{
			Checklist: []model.ChecklistItem{{ItemID: "photo", Label: "Фото", DocType: "photo"}},
		}, adminActor)
		if err != nil {
			t.Fatalf("ошибка обновления %d: %v", i, err)
		}
	}

	history, err = s.ListHistory("de")
	if err != nil {
		t.Fatalf("ошибка чтения истории: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("ожидалось 3 записи истории, получено %d", len(history))
	}
	for i, entry := range history {
		if entry.Version != i+1 {
			t.Errorf("запись %d: ожидалась версия %d, получена %d", i, i+1, entry.Version)
		}
		if entry.UpdatedBy != adminActor.Email {
			t.Errorf("запись %d: updatedBy %q", i, entry.UpdatedBy)
		}
	}
}

// TestListHistory_UnknownCountry проверяет ошибку для неизвестной страны.
func TestListHistory_UnknownCountry(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	_, err = s.ListHistory("xx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestReload проверяет, что обновлённое состояние переживает перезапуск.
func TestReload(t *testing.T) {
	dataDir := t.TempDir()

	s, err := New(dataDir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}

	if _, err := s.Update("es", UpdateRequest{
		Validator: &model.Validator{FileTypes: []string{"png"}, MaxSizeBytes: 1000000},
	}, adminActor); err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}

	// Повторная инициализация с того же каталога
	reloaded, err := New(dataDir, testLogger())
	if err != nil {
		t.Fatalf("ошибка повторной инициализации: %v", err)
	}

	country, err := reloaded.Get("es")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if country.Version != 1 {
		t.Errorf("версия после перезапуска: ожидалась 1, получена %d", country.Version)
	}
	if country.Validator.MaxSizeBytes != 1000000 {
		t.Errorf("валидатор не сохранился: %+v", country.Validator)
	}

	history, err := reloaded.ListHistory("es")
	if err != nil {
		t.Fatalf("ошибка чтения истории: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("ожидалась 1 запись истории после перезапуска, получено %d", len(history))
	}
}
