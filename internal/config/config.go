// Пакет config — загрузка и валидация конфигурации Visa Dossier
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Окружение развёртывания (prod, stage, dev) — входит в путь хранения блобов
	Env string
	// Путь к директории данных (политики, индексы, досье)
	DataDir string
	// Путь к директории хранения загруженных файлов
	UploadDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Поведение экспорта при ссылке чек-листа на чужой файл (omit, fail)
	ExportForeignBlobs string
	// Внешний базовый URL для ссылок fileUrl в ответах (опционально)
	PublicBaseURL string
	// URL JWKS endpoint провайдера аутентификации
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Путь к TLS сертификату (опционально; без него сервер слушает HTTP)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (VD_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости (целевого сервиса) в метриках topologymetrics (VD_DEPHEALTH_DEP_NAME)
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string

	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds (по умолчанию 30s).
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// VD_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("VD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("VD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("VD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// VD_ENV — окружение развёртывания (по умолчанию "dev")
	cfg.Env = getEnvDefault("VD_ENV", "dev")

	// VD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("VD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// VD_UPLOAD_DIR — обязательный
	cfg.UploadDir, err = getEnvRequired("VD_UPLOAD_DIR")
	if err != nil {
		return nil, err
	}

	// VD_WAL_DIR — обязательный
	cfg.WALDir, err = getEnvRequired("VD_WAL_DIR")
	if err != nil {
		return nil, err
	}

	// VD_MAX_UPLOAD_SIZE — максимальный размер загрузки (по умолчанию 5 MiB)
	maxUploadSize, err := getEnvInt64("VD_MAX_UPLOAD_SIZE", 5242880)
	if err != nil {
		return nil, fmt.Errorf("VD_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUploadSize <= 0 {
		return nil, fmt.Errorf("VD_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	cfg.MaxUploadSize = maxUploadSize

	// VD_EXPORT_FOREIGN_BLOBS — поведение экспорта (по умолчанию "omit")
	cfg.ExportForeignBlobs = getEnvDefault("VD_EXPORT_FOREIGN_BLOBS", "omit")
	if cfg.ExportForeignBlobs != "omit" && cfg.ExportForeignBlobs != "fail" {
		return nil, fmt.Errorf("VD_EXPORT_FOREIGN_BLOBS: недопустимое значение %q, допустимые: omit, fail",
			cfg.ExportForeignBlobs)
	}

	// VD_PUBLIC_BASE_URL — базовый URL для fileUrl (опционально, без завершающего /)
	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("VD_PUBLIC_BASE_URL", ""), "/")

	// VD_JWKS_URL — обязательный
	cfg.JWKSUrl, err = getEnvRequired("VD_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// VD_JWKS_CA_CERT — путь к CA-сертификату для JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("VD_JWKS_CA_CERT", "")

	// VD_TLS_CERT / VD_TLS_KEY — опциональны, но только парой
	cfg.TLSCert = getEnvDefault("VD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("VD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("VD_TLS_CERT и VD_TLS_KEY должны задаваться вместе")
	}

	// VD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("VD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("VD_LOG_LEVEL: %w", err)
	}

	// VD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("VD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("VD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// VD_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("VD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// VD_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "visa-dossier")
	cfg.DephealthGroup = getEnvDefault("VD_DEPHEALTH_GROUP", "visa-dossier")

	// VD_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics (по умолчанию "auth-jwks")
	cfg.DephealthDepName = getEnvDefault("VD_DEPHEALTH_DEP_NAME", "auth-jwks")

	// DEPHEALTH_NAME — имя владельца пода для метки name в topologymetrics (без префикса модуля)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	// VD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("VD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("VD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
