// Пакет wal — файловый Write-Ahead Log для операций записи Blob Store.
// Загрузка файла проходит в рамках транзакции: pending-запись → байты
// на диск → обновление индекса → commit. Обнаруженные при старте
// pending-записи откатываются, а осиротевшие директории блобов удаляются.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в VD_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpBlobCreate — создание нового блоба (upload)
	OpBlobCreate OperationType = "blob_create"
	// OpDossierCreate — создание записи досье
	OpDossierCreate OperationType = "dossier_create"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена (ошибка или восстановление)
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// BlobID — идентификатор блоба или досье, над которым идёт операция
	BlobID string `json:"blob_id"`

	// StorageDir — директория данных операции (относительно корня
	// хранилища). Используется при откате для удаления осиротевших файлов.
	StorageDir string `json:"storage_dir,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
