// Пакет server — HTTP-сервер Visa Dossier с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/visadossier/internal/api/handlers"
	"github.com/bigkaa/visadossier/internal/api/middleware"
	"github.com/bigkaa/visadossier/internal/config"
	"github.com/bigkaa/visadossier/internal/policy"
)

// Handlers — набор доменных обработчиков, монтируемых в роутер.
type Handlers struct {
	Health  *handlers.HealthHandler
	Policy  *handlers.PolicyHandler
	Upload  *handlers.UploadHandler
	Files   *handlers.FilesHandler
	Dossier *handlers.DossierHandler
}

// Server — HTTP-сервер Visa Dossier.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// Health и metrics — публичные; всё под /api/v1 требует JWT.
func New(cfg *config.Config, logger *slog.Logger, auth *middleware.JWTAuth, h Handlers) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	admin := middleware.RequireRole(policy.RoleAdmin)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Get("/countries/{id}/policy", h.Policy.GetPolicy)
		r.With(admin).Post("/countries/{id}/rules", h.Policy.UpdateRules)
		r.With(admin).Get("/countries/{id}/rules/history", h.Policy.GetRulesHistory)

		r.Post("/upload", h.Upload.Upload)
		r.Get("/files", h.Files.ListFiles)
		r.Get("/files/{id}", h.Files.GetFile)

		r.Post("/users/{id}/dossier", h.Dossier.CreateDossier)
		r.Get("/dossier/{id}/export", h.Dossier.ExportDossier)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
