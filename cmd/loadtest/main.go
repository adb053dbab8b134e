// Команда loadtest гоняет сценарии жизненного цикла заказа против HTTP API back office.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/backoffice/internal/version"
)

const (
	idempotencyHeader = "Idempotency-Key"
	envJWTSecret      = "BACKOFFICE_JWT_SECRET"
)

type loadMode string

const (
	modeCreate        loadMode = "create"
	modeCreateCancel  loadMode = "create-cancel"
	modeCreateFulfill loadMode = "create-fulfill"
)

// fulfillmentPath: статусы, через которые сценарий create-fulfill проводит заказ.
var fulfillmentPath = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusInTransit,
	domain.OrderStatusDelivered,
	domain.OrderStatusCompleted,
}

type config struct {
	addr        string
	secret      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	attributes  domain.Attributes
	quantity    int
	postalCode  string
	city        string
	customerTag string
	outputPath  string
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		cfg       config
		modeValue string
		attrs     string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	fs.StringVar(&cfg.secret, "secret", "", "JWT signing secret (fallback: "+envJWTSecret+")")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel | create-fulfill")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create mode (0..100)")
	fs.StringVar(&cfg.productID, "product", "tshirt-basic", "product to order")
	fs.StringVar(&attrs, "attrs", "size=M,color=black", "variant attributes as key=value pairs")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order")
	fs.StringVar(&cfg.postalCode, "postcode", "10115", "delivery postcode")
	fs.StringVar(&cfg.city, "city", "Berlin", "delivery city")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	if strings.TrimSpace(cfg.secret) == "" {
		cfg.secret = strings.TrimSpace(getenv(envJWTSecret))
	}
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	parsedAttrs, err := parseAttributes(attrs)
	if err != nil {
		return cfg, err
	}
	cfg.attributes = parsedAttrs

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.secret == "":
		return cfg, fmt.Errorf("jwt secret is required (-secret or %s)", envJWTSecret)
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateCancel, modeCreateFulfill:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func parseAttributes(raw string) (domain.Attributes, error) {
	attrs := domain.Attributes{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid attribute %q, want key=value", pair)
		}
		attrs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return attrs, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	staffToken, err := httpapi.IssueToken(cfg.secret, "loadtest-staff", httpapi.RoleAdmin)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "issue staff token: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runner := &runner{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.timeout},
		col:        newCollector(),
		runID:      fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		staffToken: staffToken,
	}
	runner.run()

	duration := time.Since(startedAt)
	result := runner.col.buildReport(startedAt, duration)
	if failures := runner.failures.Load(); result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

type runner struct {
	cfg        config
	http       *http.Client
	col        *collector
	runID      string
	staffToken string
	failures   atomic.Int64
}

func (r *runner) run() {
	jobs := make(chan int, r.cfg.concurrency*2)
	var wg sync.WaitGroup
	for range r.cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := r.scenario(id); err != nil {
					r.failures.Add(1)
				}
			}
		}()
	}
	dispatchJobs(jobs, r.cfg)
	wg.Wait()
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// scenario создаёт заказ и, в зависимости от режима, отменяет или проводит его до COMPLETED.
func (r *runner) scenario(index int) (err error) {
	start := time.Now()
	defer func() {
		r.col.record(scenarioMethod, time.Since(start), http.StatusOK, err == nil)
	}()

	customer := fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index)
	customerToken, err := httpapi.IssueToken(r.cfg.secret, customer)
	if err != nil {
		return err
	}

	body := map[string]any{
		"items": []map[string]any{{
			"productId":         r.cfg.productID,
			"quantity":          r.cfg.quantity,
			"variantAttributes": r.cfg.attributes,
		}},
		"deliveryDetails": map[string]any{"postalCode": r.cfg.postalCode, "city": r.cfg.city},
	}
	var created domain.Order
	key := fmt.Sprintf("lt-create-%s-%d", r.runID, index)
	if err := r.call("CreateOrder", http.MethodPost, "/orders", customerToken, key, body, http.StatusCreated, &created); err != nil {
		return err
	}
	if created.ID == "" {
		return errors.New("create response returned empty order id")
	}

	switch {
	case r.cfg.mode == modeCreateCancel, r.cfg.mode == modeCreate && shouldCancelScenario(index, r.cfg.cancelRate):
		return r.call("CancelOrder", http.MethodPatch, "/orders/"+created.ID+"/cancel", customerToken, "",
			map[string]string{"reason": "load-cancel"}, http.StatusNoContent, nil)
	case r.cfg.mode == modeCreateFulfill:
		for _, status := range fulfillmentPath {
			if err := r.call("UpdateStatus", http.MethodPatch, "/orders/"+created.ID+"/status", r.staffToken, "",
				map[string]string{"status": string(status)}, http.StatusOK, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runner) call(method, verb, path, token, idempotencyKey string, body any, want int, out any) error {
	start := time.Now()
	status, err := r.do(verb, path, token, idempotencyKey, body, out)
	ok := err == nil && status == want
	r.col.record(method, time.Since(start), status, ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %s: unexpected status %d", verb, path, status)
	}
	return nil
}

func (r *runner) do(verb, path, token, idempotencyKey string, body, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, verb, r.cfg.addr+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("loadtest"))
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
