package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-tx-go/internal/auth"
	"github.com/nazeru/storefront-tx-go/internal/catalog"
	"github.com/nazeru/storefront-tx-go/internal/client"
	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	ProductID          string         `json:"product_id"`
	Checkouts          int            `json:"checkouts"`
	Concurrency        int            `json:"concurrency"`
	QuantityPerOrder   int            `json:"quantity_per_order"`
	InitialStock       int            `json:"initial_stock"`
	FinalStock         int            `json:"final_stock"`
	SuccessfulRequests int            `json:"successful_requests"`
	RejectedRequests   int            `json:"rejected_requests"`
	ErrorRequests      int            `json:"error_requests"`
	UnitsSold          int            `json:"units_sold"`
	Revenue            string         `json:"revenue"`
	Oversold           bool           `json:"oversold"`
	StockConsistent    bool           `json:"stock_consistent"`
	DurationSeconds    float64        `json:"duration_seconds"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	MinLatencyMs       float64        `json:"min_latency_ms"`
	MaxLatencyMs       float64        `json:"max_latency_ms"`
	P50LatencyMs       float64        `json:"p50_latency_ms"`
	P90LatencyMs       float64        `json:"p90_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	P99LatencyMs       float64        `json:"p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
}

type metrics struct {
	mu           sync.Mutex
	success      int
	rejected     int
	errors       int
	total        time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	latenciesMs  []float64
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

func (m *metrics) record(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, class := classifyError(err)
	m.statusCounts[strconv.Itoa(status)]++
	if class != "" {
		m.errorClasses[class]++
	}
	switch {
	case err == nil:
		m.success++
	case class == "insufficient_stock" || class == "transaction_aborted":
		m.rejected++
	default:
		m.errors++
	}
	if err != nil {
		if m.firstError == "" && class != "insufficient_stock" {
			m.firstError = err.Error()
		}
		return
	}
	m.total += latency
	if m.minLatency == 0 || latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
}

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	productID := flag.String("product", getenv("BENCH_PRODUCT_ID", "1"), "product every checkout buys")
	adminID := flag.String("admin", getenv("ADMIN_USER_ID", ""), "admin user id used to reset stock before the run")
	stock := flag.Int("stock", -1, "reset the product stock to this value before the run (needs -admin)")
	total := flag.Int("total", 200, "total number of checkouts")
	concurrency := flag.Int("concurrency", 20, "number of concurrent buyers")
	qty := flag.Int("qty", 1, "quantity per checkout")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *total <= 0 || *concurrency <= 0 || *qty <= 0 {
		fmt.Fprintln(os.Stderr, "total, concurrency and qty must be > 0")
		os.Exit(1)
	}

	ctx := context.Background()
	initial, err := prepare(ctx, *baseURL, *adminID, domain.ProductID(*productID), *stock, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	tasks := make(chan int)
	var wg sync.WaitGroup
	m := newMetrics()

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			sess := auth.NewSession()
			sess.SignIn(domain.Principal{ID: domain.UserID(fmt.Sprintf("bench-user-%d", worker)), Role: domain.RoleUser})
			c := client.New(*baseURL, sess, *timeout)
			items := []domain.CartItem{{ID: initial.ID, Name: initial.Name, Price: initial.Price, Quantity: *qty}}
			for range tasks {
				t0 := time.Now()
				_, err := c.Checkout(ctx, items, uuid.NewString())
				m.record(time.Since(t0), err)
			}
		}(i)
	}
	for i := 0; i < *total; i++ {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	final, err := fetchProduct(ctx, client.New(*baseURL, nil, *timeout), initial.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read final stock: %v\n", err)
		os.Exit(1)
	}

	avgLatency := 0.0
	minLatency := 0.0
	maxLatency := 0.0
	if m.success > 0 {
		avgLatency = float64(m.total.Milliseconds()) / float64(m.success)
		minLatency = float64(m.minLatency.Milliseconds())
		maxLatency = float64(m.maxLatency.Milliseconds())
	}
	p50, p90, p95, p99 := calcPercentiles(m.latenciesMs)
	sold := m.success * *qty

	result := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            *baseURL,
		ProductID:          string(initial.ID),
		Checkouts:          *total,
		Concurrency:        *concurrency,
		QuantityPerOrder:   *qty,
		InitialStock:       initial.Stock,
		FinalStock:         final.Stock,
		SuccessfulRequests: m.success,
		RejectedRequests:   m.rejected,
		ErrorRequests:      m.errors,
		UnitsSold:          sold,
		Revenue:            orderValue(initial, sold).StringFixed(2),
		Oversold:           final.Stock < 0 || sold > initial.Stock,
		StockConsistent:    final.Stock == initial.Stock-sold,
		DurationSeconds:    duration.Seconds(),
		AvgLatencyMs:       avgLatency,
		MinLatencyMs:       minLatency,
		MaxLatencyMs:       maxLatency,
		P50LatencyMs:       p50,
		P90LatencyMs:       p90,
		P95LatencyMs:       p95,
		P99LatencyMs:       p99,
		ThroughputRPS:      float64(m.success) / duration.Seconds(),
		StatusCounts:       m.statusCounts,
		ErrorClasses:       m.errorClasses,
		FirstError:         m.firstError,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Oversold || !result.StockConsistent {
		fmt.Fprintln(os.Stderr, "stock invariant violated")
		os.Exit(2)
	}
}

// prepare optionally resets the product stock and returns the product as
// the run starts.
func prepare(ctx context.Context, baseURL, adminID string, id domain.ProductID, stock int, timeout time.Duration) (domain.Product, error) {
	anon := client.New(baseURL, nil, timeout)
	p, err := fetchProduct(ctx, anon, id)
	if err != nil {
		return domain.Product{}, err
	}
	if stock < 0 {
		return p, nil
	}
	if adminID == "" {
		return domain.Product{}, errors.New("-stock needs -admin or ADMIN_USER_ID")
	}
	sess := auth.NewSession()
	sess.SignIn(domain.Principal{ID: domain.UserID(adminID), Role: domain.RoleAdmin})
	return client.New(baseURL, sess, timeout).UpdateProduct(ctx, id, catalog.ProductInput{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       stock,
	})
}

func fetchProduct(ctx context.Context, c *client.Client, id domain.ProductID) (domain.Product, error) {
	ps, err := c.Products(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range ps {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("product %s not found", id)
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// classifyError returns the HTTP status and error class of a checkout.
func classifyError(err error) (int, string) {
	if err == nil {
		return 201, ""
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return 0, "transport"
	}
	switch {
	case apiErr.Code != "" && apiErr.Code != "http_error":
		return apiErr.Status, apiErr.Code
	case apiErr.Status >= 500:
		return apiErr.Status, "http_5xx"
	default:
		return apiErr.Status, "http_4xx"
	}
}

func calcPercentiles(values []float64) (float64, float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	sort.Float64s(values)
	return percentile(values, 0.50), percentile(values, 0.90), percentile(values, 0.95), percentile(values, 0.99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// orderValue is the revenue the run should have produced.
func orderValue(p domain.Product, units int) decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(units)))
}
