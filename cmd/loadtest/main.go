package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultQty = int64(1)
	updatedQty = int64(3)
	// codeTransport фиксирует ошибку до получения HTTP-ответа.
	codeTransport = "transport_error"
	// codeDecode фиксирует ответ, который не удалось разобрать.
	codeDecode = "decode_error"
)

type loadMode string

const (
	modeCreate             loadMode = "create"
	modeCreateUpdate       loadMode = "create-update"
	modeCreateUpdateDelete loadMode = "create-update-delete"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	deleteRate  int
	price       decimal.Decimal
	productName string
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// outcome — результат одного вызова: HTTP-статус или код ошибки клиента.
type outcome struct {
	status int
	code   string
}

func (o outcome) ok() bool {
	return o.code == "" && o.status >= 200 && o.status < 300
}

func (o outcome) String() string {
	if o.code != "" {
		return o.code
	}
	return strconv.Itoa(o.status)
}

var scenarioOK = outcome{status: http.StatusOK}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, result outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if result.ok() {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[result.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, priceValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "ledger HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-update | create-update-delete")
	fs.IntVar(&cfg.deleteRate, "delete-rate", 0, "delete probability in percent for create-update mode (0..100)")
	fs.StringVar(&priceValue, "price", "10.00", "catalog price of the load product")
	fs.StringVar(&cfg.productName, "product", "Load Product", "name of the product created for the run")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer email prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if _, err := url.ParseRequestURI(cfg.baseURL); err != nil {
		return cfg, fmt.Errorf("parse url: %w", err)
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if !cfg.price.IsPositive() {
		return cfg, errors.New("price must be > 0")
	}
	if cfg.deleteRate < 0 || cfg.deleteRate > 100 {
		return cfg, errors.New("delete-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.productName) == "" {
		return cfg, errors.New("product is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateUpdate:
		return modeCreateUpdate, nil
	case modeCreateUpdateDelete:
		return modeCreateUpdateDelete, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	result, err := run(context.Background(), cfg, httpClient)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
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

// run создаёт товар для прогона и гоняет сценарии заказов до исчерпания задач.
func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	client := &ledgerClient{baseURL: cfg.baseURL, http: httpClient, timeout: cfg.timeout}
	col := newCollector()

	productID, err := client.createProduct(ctx, cfg.productName, cfg.price, col)
	if err != nil {
		return report{}, fmt.Errorf("create load product: %w", err)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(ctx, client, cfg, productID, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
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

// runScenario: клиент, заказ на одну позицию, затем по режиму смена количества и удаление.
func runScenario(
	ctx context.Context,
	client *ledgerClient,
	cfg config,
	productID string,
	index int,
	runID string,
	col *collector,
) (err error) {
	scenarioStart := time.Now()
	defer func() {
		result := scenarioOK
		if err != nil {
			result = outcomeOf(err)
		}
		col.record("scenario", time.Since(scenarioStart), result)
	}()

	email := fmt.Sprintf("%s-%s-%d@load.test", cfg.customerTag, runID, index)
	customerID, err := client.createCustomer(ctx, "Load", fmt.Sprintf("Customer %d", index), email, col)
	if err != nil {
		return err
	}

	orderID, err := client.createOrder(ctx, customerID, productID, defaultQty, col)
	if err != nil {
		return err
	}

	if cfg.mode == modeCreate {
		return nil
	}

	if err := client.setQuantity(ctx, orderID, productID, updatedQty, col); err != nil {
		return err
	}

	if cfg.mode == modeCreateUpdateDelete || (cfg.mode == modeCreateUpdate && shouldDeleteScenario(index, cfg.deleteRate)) {
		if err := client.deleteOrder(ctx, orderID, col); err != nil {
			return err
		}
	}
	return nil
}

// callError несёт результат неуспешного вызова API.
type callError struct {
	method string
	result outcome
	err    error
}

func (e *callError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.method, e.result, e.err)
	}
	return fmt.Sprintf("%s: unexpected status %s", e.method, e.result)
}

func (e *callError) Unwrap() error { return e.err }

func outcomeOf(err error) outcome {
	var callErr *callError
	if errors.As(err, &callErr) {
		return callErr.result
	}
	return outcome{code: codeTransport}
}

type ledgerClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

type createdResource struct {
	ID string `json:"id"`
}

// call выполняет запрос, записывает его в collector и разбирает тело ответа в out.
func (c *ledgerClient) call(
	ctx context.Context,
	name, method, path string,
	body any,
	out any,
	col *collector,
) error {
	start := time.Now()
	result, err := c.exchange(ctx, method, path, body, out)
	col.record(name, time.Since(start), result)
	if err != nil || !result.ok() {
		return &callError{method: name, result: result, err: err}
	}
	return nil
}

func (c *ledgerClient) exchange(ctx context.Context, method, path string, body, out any) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return outcome{code: codeTransport}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return outcome{code: codeTransport}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return outcome{code: codeTransport}, err
	}
	defer resp.Body.Close()

	result := outcome{status: resp.StatusCode}
	if out == nil || !result.ok() {
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return outcome{status: resp.StatusCode, code: codeDecode}, err
	}
	return result, nil
}

func (c *ledgerClient) createProduct(ctx context.Context, name string, price decimal.Decimal, col *collector) (string, error) {
	var created createdResource
	err := c.call(ctx, "CreateProduct", http.MethodPost, "/products", map[string]any{
		"name":  name,
		"price": price,
	}, &created, col)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("create product response returned empty id")
	}
	return created.ID, nil
}

func (c *ledgerClient) createCustomer(ctx context.Context, firstName, lastName, email string, col *collector) (string, error) {
	var created createdResource
	err := c.call(ctx, "CreateCustomer", http.MethodPost, "/customers", map[string]any{
		"first_name": firstName,
		"last_name":  lastName,
		"email":      email,
	}, &created, col)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &callError{method: "CreateCustomer", result: outcome{code: codeDecode}, err: errors.New("empty customer id")}
	}
	return created.ID, nil
}

func (c *ledgerClient) createOrder(ctx context.Context, customerID, productID string, qty int64, col *collector) (string, error) {
	var created createdResource
	err := c.call(ctx, "CreateOrder", http.MethodPost, "/orders", map[string]any{
		"customer_id": customerID,
		"items": []map[string]any{
			{"product_id": productID, "quantity": qty},
		},
	}, &created, col)
	if err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &callError{method: "CreateOrder", result: outcome{code: codeDecode}, err: errors.New("empty order id")}
	}
	return created.ID, nil
}

func (c *ledgerClient) setQuantity(ctx context.Context, orderID, productID string, qty int64, col *collector) error {
	path := "/orders/" + url.PathEscape(orderID) + "/items/" + url.PathEscape(productID)
	return c.call(ctx, "SetItemQuantity", http.MethodPut, path, map[string]any{"quantity": qty}, nil, col)
}

func (c *ledgerClient) deleteOrder(ctx context.Context, orderID string, col *collector) error {
	return c.call(ctx, "DeleteOrder", http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil, col)
}

func shouldDeleteScenario(index, deleteRate int) bool {
	if deleteRate <= 0 {
		return false
	}
	if deleteRate >= 100 {
		return true
	}
	return index%100 < deleteRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явным флагом CLI.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
