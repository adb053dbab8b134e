package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/backoffice/internal/cache"
	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/outbox"
	"github.com/vladislavdragonenkov/backoffice/internal/transport/httpapi"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturePublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.EventType)
	}
	return out
}

// OrderLifecycleSuite гоняет полный цикл заказа через HTTP поверх засеянного каталога.
type OrderLifecycleSuite struct {
	suite.Suite
	cfg      Config
	storage  *runtimeStorage
	server   *httptest.Server
	customer string
	staff    string
}

func (s *OrderLifecycleSuite) SetupTest() {
	ctx := context.Background()
	logger := quietLogger(s.T())
	s.cfg = testConfig()

	storage, err := initStorage(ctx, s.cfg, logger)
	s.Require().NoError(err)
	s.Require().NoError(seedCatalog(ctx, seedPath, storage.seedTarget, logger))
	s.storage = storage

	services := NewServices(s.cfg, storage, cache.NewMemory(),
		metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry()), logger)
	s.server = httptest.NewServer(services.Router(s.cfg, storage, logger))

	s.customer, err = httpapi.IssueToken(s.cfg.JWTSecret, "customer-1")
	s.Require().NoError(err)
	s.staff, err = httpapi.IssueToken(s.cfg.JWTSecret, "staff-1", httpapi.RoleAdmin)
	s.Require().NoError(err)
}

func (s *OrderLifecycleSuite) TearDownTest() {
	s.server.Close()
}

func (s *OrderLifecycleSuite) call(method, path, token string, body any, out any) int {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)

	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(raw))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *OrderLifecycleSuite) createOrder(quantity int) domain.Order {
	var created domain.Order
	status := s.call(http.MethodPost, "/orders", s.customer, map[string]any{
		"items": []map[string]any{{
			"productId":         "tshirt-basic",
			"quantity":          quantity,
			"variantAttributes": map[string]string{"size": "M", "color": "black"},
		}},
		"deliveryDetails": map[string]any{"postalCode": "10115", "city": "Berlin"},
	}, &created)
	s.Require().Equal(http.StatusCreated, status)
	s.Require().NotEmpty(created.ID)
	return created
}

func (s *OrderLifecycleSuite) product() domain.Product {
	product, err := s.storage.read.Product(context.Background(), "tshirt-basic")
	s.Require().NoError(err)
	return product
}

func (s *OrderLifecycleSuite) TestFulfilAndReturn() {
	created := s.createOrder(2)
	s.True(created.TotalAmount.IsPositive())
	s.Equal(2, s.product().ReservedStock)

	for _, status := range []string{"PROCESSING", "IN_TRANSIT", "DELIVERED", "COMPLETED"} {
		s.Require().Equal(http.StatusOK, s.call(http.MethodPatch, "/orders/"+created.ID+"/status", s.staff,
			map[string]string{"status": status}, nil), status)
	}

	var returned domain.Order
	s.Require().Equal(http.StatusCreated, s.call(http.MethodPost, "/orders/return", s.customer, map[string]any{
		"orderId": created.ID,
		"items":   []map[string]any{{"productId": "tshirt-basic", "quantity": 1, "reason": "too small"}},
	}, &returned))
	s.Equal(domain.OrderStatusReturned, returned.Status)

	var metricsSnapshot domain.FinancialMetrics
	s.Require().Equal(http.StatusOK, s.call(http.MethodGet, "/orders/management/financial-metrics", s.staff, nil, &metricsSnapshot))
	s.Equal(1, metricsSnapshot.TotalReturns)

	publisher := &capturePublisher{}
	report := outbox.NewWorker(s.storage.outbox, publisher, outbox.WithRetryBaseDelay(0)).ProcessOnce(context.Background())
	s.Equal(report.Pulled, report.Sent)
	s.Contains(publisher.types(), domain.TimelineOrderCreated)
	s.Contains(publisher.types(), domain.TimelineOrderReturned)
}

func (s *OrderLifecycleSuite) TestCancelReleasesReservation() {
	before := s.product()
	created := s.createOrder(3)
	s.Equal(before.ReservedStock+3, s.product().ReservedStock)

	s.Require().Equal(http.StatusNoContent, s.call(http.MethodPatch, "/orders/"+created.ID+"/cancel", s.customer,
		map[string]string{"reason": "changed mind"}, nil))
	s.Equal(before.ReservedStock, s.product().ReservedStock)

	var events []domain.TimelineEvent
	s.Require().Equal(http.StatusOK, s.call(http.MethodGet, "/orders/"+created.ID+"/timeline", s.customer, nil, &events))
	s.Require().NotEmpty(events)
	s.Equal(domain.TimelineOrderCanceled, events[len(events)-1].Type)
}

func (s *OrderLifecycleSuite) TestOversellRejected() {
	var stock int
	for _, variant := range s.product().Variants {
		if variant.Attributes["size"] == "M" {
			stock = variant.Quantity
		}
	}
	status := s.call(http.MethodPost, "/orders", s.customer, map[string]any{
		"items": []map[string]any{{
			"productId":         "tshirt-basic",
			"quantity":          stock + 1,
			"variantAttributes": map[string]string{"size": "M", "color": "black"},
		}},
		"deliveryDetails": map[string]any{"postalCode": "10115"},
	}, nil)
	s.Equal(http.StatusBadRequest, status)
	s.Zero(s.product().ReservedStock)
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleSuite))
}
