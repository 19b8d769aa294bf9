// Точка входа Visa Dossier — сервиса документов визовых заявлений:
// политики валидации по странам, проверка загружаемых изображений,
// хранение файлов и экспорт досье.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/visadossier/internal/api/handlers"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/config"
	"github.com/bigkaa/visadossier/internal/dossier"
	"github.com/bigkaa/visadossier/internal/policy"
	"github.com/bigkaa/visadossier/internal/server"
	"github.com/bigkaa/visadossier/internal/service"
	"github.com/bigkaa/visadossier/internal/storage/blobstore"
	"github.com/bigkaa/visadossier/internal/storage/wal"
)

// Параметры JWKS-клиента.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 5 * time.Minute
	jwtLeeway           = 30 * time.Second
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Visa Dossier запускается",
		slog.String("version", config.Version),
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	// --- Инициализация компонентов ---

	// 1. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Хранилище файлов
	blobs, err := blobstore.New(cfg.UploadDir, cfg.DataDir, cfg.Env, walEngine, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища файлов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// WAL recovery: откатываем незавершённые загрузки
	if err := blobs.Recover(); err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	middleware.BlobsTotal.Set(float64(blobs.Count()))

	// 3. Хранилище политик по странам
	policies, err := policy.New(cfg.DataDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища политик", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Хранилище досье
	dossiers, err := dossier.New(cfg.DataDir, blobs, dossier.ForeignBlobPolicy(cfg.ExportForeignBlobs), logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища досье", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. topologymetrics — мониторинг зависимостей
	ctx := context.Background()

	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.DephealthName,
		cfg.DephealthGroup,
		cfg.DephealthDepName,
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 6. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   jwksClientTimeout,
		RefreshInterval: jwksRefreshInterval,
		JWTLeeway:       jwtLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка инициализации JWT аутентификации",
			slog.String("jwks_url", cfg.JWKSUrl),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))

	// 7. Handlers
	h := server.Handlers{
		Health:  handlers.NewHealthHandler(cfg.DataDir, cfg.UploadDir, cfg.WALDir),
		Policy:  handlers.NewPolicyHandler(policies, logger),
		Upload:  handlers.NewUploadHandler(blobs, policies, cfg.MaxUploadSize, cfg.PublicBaseURL, logger),
		Files:   handlers.NewFilesHandler(blobs, logger),
		Dossier: handlers.NewDossierHandler(dossiers, policies, logger),
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, jwtAuth, h)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Visa Dossier остановлен")
}
