// Package health собирает проверки зависимостей площадки (хранилище, брокер,
// blob-хранилище) и отдаёт их HTTP-пробам и gRPC health-сервису.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// worse возвращает худший из двух статусов.
func worse(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Check результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report тело ответа /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент. Реализация обязана уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler хранит зарегистрированные проверки и запускает их по запросу.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startedAt time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   defaultCheckTimeout,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет проверку; повторная регистрация имени заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает имена зарегистрированных проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.checkers))
}

// Run выполняет все проверки параллельно под общим таймаутом.
func (h *Handler) Run(ctx context.Context) Report {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := slices.Sorted(maps.Keys(checkers))
	results := make([]Check, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = checkers[name].Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(results)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	for i, check := range results {
		report.Checks[names[i]] = check
		report.Status = worse(report.Status, check.Status)
	}
	return report
}

// Watch прогоняет проверки раз в interval и вызывает onChange при смене
// итогового статуса, в том числе после первого прогона. Блокируется до отмены ctx.
func (h *Handler) Watch(ctx context.Context, interval time.Duration, onChange func(Status)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Status
	for {
		if status := h.Run(ctx).Status; status != last && ctx.Err() == nil {
			last = status
			onChange(status)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Run(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока не прошла хоть одна критичная проверка.
// Недоступный брокер или blob-каталог готовности не снимают: заказы копятся в outbox.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Run(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// FuncChecker проверка на функции. Ошибка критичной проверки даёт unhealthy,
// некритичной degraded.
type FuncChecker struct {
	name     string
	critical bool
	probe    func(ctx context.Context) error
}

// NewChecker создаёт критичную проверку, например хранилища.
func NewChecker(name string, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: true, probe: probe}
}

// NewOptionalChecker создаёт некритичную проверку: брокер, blob-хранилище.
func NewOptionalChecker(name string, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, probe: probe}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.probe(ctx)

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusDegraded
		if c.critical {
			check.Status = StatusUnhealthy
		}
	}
	return check
}
