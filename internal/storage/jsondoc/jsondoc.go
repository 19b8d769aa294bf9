// Пакет jsondoc — атомарное чтение и запись JSON-документов на диске.
// Индексные документы (countries.json, uploads_index.json, dossiers/index.json)
// и файлы истории правил записываются целиком по паттерну:
// temp файл → fsync → atomic rename. Неудачная запись оставляет
// предыдущую валидную версию документа нетронутой.
package jsondoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Write атомарно записывает документ в JSON-файл.
// Документ сериализуется с отступами (формат исходных индексов).
func Write(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа %s: %w", path, err)
	}

	// Создаём директорию если не существует
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
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

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и десериализует JSON-документ в doc.
// Возвращает ошибку, если файл не найден или содержит невалидный JSON.
func Read(path string, doc any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения документа %s: %w", path, err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("ошибка десериализации документа %s: %w", path, err)
	}

	return nil
}

// Exists проверяет существование документа на диске.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
