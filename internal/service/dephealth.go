// dephealth.go — наблюдение за JWKS endpoint через topologymetrics SDK.
//
// У сервиса одна внешняя зависимость: провайдер аутентификации. Без его
// JWKS-ключей middleware не может валидировать ни один токен, поэтому
// зависимость помечена как critical. Состояние экспортируется на /metrics
// рядом с остальными Prometheus-метриками (app_dependency_health,
// app_dependency_latency_seconds, app_dependency_status*), что позволяет
// собирать граф зависимостей по меткам name/group.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks" // Регистрация фабрик checker-ов (HTTP и др.)
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — периодическая HTTP-проверка JWKS endpoint
// с экспортом состояния в topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис наблюдения. name — вершина графа
// текущего приложения (DEPHEALTH_NAME), group/depName — метки группы и
// целевого сервиса (VD_DEPHEALTH_GROUP / VD_DEPHEALTH_DEP_NAME), jwksURL
// и checkInterval задают что и как часто проверять. Метрики попадают
// в глобальный Prometheus registry.
func NewDephealthService(
	name string,
	group string,
	depName string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(name, group, depName, jwksURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer — то же, но с отдельным Prometheus
// registerer. Нужен тестам, чтобы не конфликтовать с глобальной регистрацией.
func NewDephealthServiceWithRegisterer(
	name string,
	group string,
	depName string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(name, group, depName, jwksURL, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	name string,
	group string,
	depName string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// Единственная зависимость — встроенный HTTP checker по JWKS URL.
	// TLS-проверка отключена: в dev-контурах провайдер живёт
	// за self-signed сертификатом.
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(depName,
			dephealth.FromURL(jwksURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(true),
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(name, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодические проверки; блокировки нет, фон ведёт SDK.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Наблюдение за провайдером аутентификации запущено")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Наблюдение за провайдером аутентификации остановлено")
}

// Health возвращает снимок состояния: имя зависимости → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
