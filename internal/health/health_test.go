package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func healthy(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewChecker("storage", healthy))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, StatusHealthy, response.Status)
	require.Equal(t, "v1.0.0", response.Version)
	require.Len(t, response.Checks, 1)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, StatusUnhealthy, response.Status)
	require.Equal(t, "connection refused", response.Checks["storage"].Message)
}

func TestHealthHandler_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewChecker("storage", healthy))
	handler.RegisterChecker("broker", NewOptionalChecker("broker", func(context.Context) error {
		return errors.New("kafka: no brokers")
	}))

	response := handler.Run(context.Background())
	require.Equal(t, StatusDegraded, response.Status)
	require.Equal(t, StatusDegraded, response.Checks["broker"].Status)
	require.Equal(t, []string{"broker", "storage"}, handler.Names())

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ready", w.Body.String())
}

func TestHealthHandler_ChecksRunWithTimeout(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.timeout = 20 * time.Millisecond
	handler.RegisterChecker("slow", NewChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	response := handler.Run(context.Background())
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StatusUnhealthy, response.Status)
	require.Equal(t, context.DeadlineExceeded.Error(), response.Checks["slow"].Message)
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewChecker("storage", func(context.Context) error {
		return errors.New("not ready")
	}))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "not ready", w.Body.String())
}

func TestFuncChecker_Duration(t *testing.T) {
	checker := NewChecker("storage", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())
	require.Equal(t, StatusHealthy, check.Status)
	require.GreaterOrEqual(t, check.DurationMs, int64(10))
}

func TestWatch_ReportsOnlyStatusChanges(t *testing.T) {
	var (
		mu      sync.Mutex
		failing = true
		seen    []Status
	)
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("storage", NewChecker("storage", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("connection refused")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Watch(ctx, 5*time.Millisecond, func(status Status) {
			mu.Lock()
			seen = append(seen, status)
			mu.Unlock()
		})
	}()

	snapshot := func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(seen)
	}

	require.Eventually(t, func() bool { return len(snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	failing = false
	mu.Unlock()
	require.Eventually(t, func() bool { return len(snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, []Status{StatusUnhealthy, StatusHealthy}, snapshot())
}
