package app

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/catalog"
	"github.com/vladislavdragonenkov/backoffice/internal/service/delivery"
	"github.com/vladislavdragonenkov/backoffice/internal/service/finance"
	"github.com/vladislavdragonenkov/backoffice/internal/service/inventory"
	"github.com/vladislavdragonenkov/backoffice/internal/service/order"
	"github.com/vladislavdragonenkov/backoffice/internal/service/query"
	"github.com/vladislavdragonenkov/backoffice/internal/service/returns"
	"github.com/vladislavdragonenkov/backoffice/internal/service/txretry"
	"github.com/vladislavdragonenkov/backoffice/internal/transport/httpapi"
)

// Services содержит прикладные сервисы поверх выбранного хранилища.
type Services struct {
	Orders   *order.Manager
	Returns  *returns.Processor
	Queries  *query.Facade
	Products *catalog.Service
}

// NewServices собирает сервисы; все мутации разделяют один ledger и кэш.
func NewServices(cfg Config, storage *runtimeStorage, c cache.Cache, m *metrics.OrderMetrics, logger *log.Entry) *Services {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	ledger := inventory.NewLedger(logger.WithField("component", "inventory"))
	retry := txretry.DefaultRetryConfig()
	retry.Retries = cfg.DeleteRetries

	return &Services{
		Orders: order.NewManager(storage.tx, ledger, delivery.NewResolver(logger.WithField("component", "delivery")),
			order.WithCache(c),
			order.WithMetrics(m),
			order.WithLogger(logger.WithField("component", "order-manager")),
		),
		Returns: returns.NewProcessor(storage.tx, ledger, finance.NewRecomputer(logger.WithField("component", "finance")),
			c, m, logger.WithField("component", "return-processor")),
		Queries:  query.NewFacade(storage.read, c, cfg.CacheTTL, logger.WithField("component", "query")),
		Products: catalog.NewService(storage.tx, storage.read, retry, logger.WithField("component", "catalog")),
	}
}

// Router собирает HTTP API поверх сервисов.
func (s *Services) Router(cfg Config, storage *runtimeStorage, logger *log.Entry) http.Handler {
	return httpapi.NewRouter(httpapi.Deps{
		Orders:         s.Orders,
		Returns:        s.Returns,
		Queries:        s.Queries,
		Products:       s.Products,
		Auth:           httpapi.NewAuthenticator(cfg.JWTSecret, logger.WithField("component", "auth")),
		Idempotency:    storage.idempotency,
		IdempotencyTTL: idempotencyTTL(cfg),
		Logger:         logger.WithField("component", "http"),
	})
}

func idempotencyTTL(cfg Config) time.Duration {
	if cfg.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return cfg.IdempotencyTTL
}
