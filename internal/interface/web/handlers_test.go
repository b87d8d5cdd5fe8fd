package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crossfusion/swapd/internal/core/application"
	"github.com/crossfusion/swapd/internal/infrastructure/db"
	inmemorylocker "github.com/crossfusion/swapd/internal/infrastructure/locker/inmemory"
	"github.com/crossfusion/swapd/pkg/htlc"
)

func newTestService(t *testing.T) *service {
	t.Helper()
	repo, err := db.NewService(db.ServiceConfig{
		DbType:   "badger",
		DbConfig: []any{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	coordinator := application.NewCoordinator(repo, inmemorylocker.NewSwapLocker(), nil, 16)
	coordinator.Start()
	t.Cleanup(coordinator.Stop)

	monitor := application.NewMonitor(repo, coordinator, nil, application.MonitorOptions{})
	return NewService(0, coordinator, monitor, nil, nil)
}

func doRequest(t *testing.T, svc *service, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)
	return rec
}

func createSwapBody(secretHash string) map[string]any {
	return map[string]any{
		"maker":        "0xmaker",
		"makingAmount": "100",
		"takingAmount": "99",
		"sourceChain":  "ethereum",
		"targetChain":  "polygon",
		"secretHash":   secretHash,
		"timeLock":     time.Now().Add(time.Hour).Unix(),
	}
}

func TestSwapEndpoints(t *testing.T) {
	svc := newTestService(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)

	rec := doRequest(t, svc, http.MethodPost, "/v1/swaps", createSwapBody(secretHash))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	swapID := created["id"].(string)
	require.Equal(t, "pending", created["status"])
	require.Equal(t, secretHash, created["secretHash"])
	// The secret must never leak before completion.
	require.NotContains(t, created, "secret")

	t.Run("duplicate secret hash conflicts", func(t *testing.T) {
		rec := doRequest(t, svc, http.MethodPost, "/v1/swaps", createSwapBody(secretHash))
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("get by id", func(t *testing.T) {
		rec := doRequest(t, svc, http.MethodGet, "/v1/swaps/"+swapID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, svc, http.MethodGet, "/v1/swaps/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list with filter", func(t *testing.T) {
		rec := doRequest(t, svc, http.MethodGet, "/v1/swaps?status=pending", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Swaps []map[string]any `json:"swaps"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Swaps, 1)

		rec = doRequest(t, svc, http.MethodGet, "/v1/swaps?status=completed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Empty(t, resp.Swaps)
	})

	t.Run("fail swap", func(t *testing.T) {
		rec := doRequest(t, svc, http.MethodPost, "/v1/swaps/"+swapID+"/fail",
			map[string]any{"reason": "operator abort"})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doRequest(t, svc, http.MethodPost, "/v1/swaps/"+swapID+"/fail",
			map[string]any{"reason": "again"})
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid body rejected", func(t *testing.T) {
		rec := doRequest(t, svc, http.MethodPost, "/v1/swaps", map[string]any{"maker": "x"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuctionEndpoints(t *testing.T) {
	svc := newTestService(t)

	_, secretHash, err := htlc.NewSecret()
	require.NoError(t, err)

	rec := doRequest(t, svc, http.MethodPost, "/v1/auctions", map[string]any{
		"seller":          "0xmaker",
		"startPrice":      "10",
		"endPrice":        "4",
		"durationSeconds": 60,
		"secretHash":      secretHash,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("rising schedule rejected", func(t *testing.T) {
		_, otherHash, err := htlc.NewSecret()
		require.NoError(t, err)
		rec := doRequest(t, svc, http.MethodPost, "/v1/auctions", map[string]any{
			"startPrice":      "4",
			"endPrice":        "10",
			"durationSeconds": 60,
			"secretHash":      otherHash,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPriceEndpoint(t *testing.T) {
	svc := newTestService(t)

	for elapsed, want := range map[int]string{0: "10", 30: "7", 60: "4", 90: "4"} {
		path := fmt.Sprintf(
			"/v1/price?startPrice=10&endPrice=4&durationSeconds=60&elapsedSeconds=%d", elapsed,
		)
		rec := doRequest(t, svc, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, want, resp["price"])
	}

	rec := doRequest(t, svc, http.MethodGet, "/v1/price?startPrice=4&endPrice=10&durationSeconds=60", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndStatus(t *testing.T) {
	svc := newTestService(t)

	rec := doRequest(t, svc, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Contains(t, stats, "activeSwaps")
	require.Contains(t, stats, "processedEvents")

	rec = doRequest(t, svc, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Contains(t, status, "isRunning")
	require.Contains(t, status, "processingQueueDepth")
}
