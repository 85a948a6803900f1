package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/liqbot/internal/domain"
	"github.com/alanyoungcy/liqbot/internal/server/handler"
	"github.com/alanyoungcy/liqbot/internal/strategy"
)

type staticReserves struct{}

func (staticReserves) Assets() []common.Address { return nil }

func (staticReserves) Lookup(common.Address) (domain.ReserveConfig, bool) {
	return domain.ReserveConfig{}, false
}

func (staticReserves) Reload(context.Context) error { return nil }

func TestRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := strategy.NewRegistry(logger, strategy.Baseline{})

	srv := NewServer(Config{Port: 0, APIKey: "k"}, Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"rpc": func(context.Context) error { return nil },
		}, logger),
		Strategies: handler.NewStrategyHandler(reg, nil, logger),
		Reserves:   handler.NewReserveHandler(staticReserves{}, nil, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	}, nil, nil, logger)

	cases := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"health is open", http.MethodGet, "/api/health", "", http.StatusOK},
		{"metrics is open", http.MethodGet, "/metrics", "", http.StatusOK},
		{"strategies needs key", http.MethodGet, "/api/strategies", "", http.StatusUnauthorized},
		{"strategies with key", http.MethodGet, "/api/strategies", "k", http.StatusOK},
		{"reserve reload needs key", http.MethodPost, "/api/reserves/reload", "", http.StatusUnauthorized},
		{"reserve reload with key", http.MethodPost, "/api/reserves/reload", "k", http.StatusOK},
		{"reserve reload is POST only", http.MethodGet, "/api/reserves/reload", "k", http.StatusMethodNotAllowed},
		{"unregistered route", http.MethodGet, "/api/positions", "k", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
