package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/arc-tools/reconcile-cli/internal/memo"
	"github.com/arc-tools/reconcile-cli/internal/model"
)

// resolvePort prefers the flag value over the configured one.
func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// diffDataKey memoizes one pipeline run per distinct source set.
func diffDataKey(sources []string) string {
	return "diff-data:" + strings.Join(sources, ",")
}

// buildMux registers the HTTP routes. env and cache may be nil when only the
// health endpoint is exercised.
func buildMux(env *pipelineEnv, cache *memo.Cache[*model.DiffDataResponse], defaultSources []string, ttl time.Duration) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/diff-data", func(w http.ResponseWriter, r *http.Request) {
		sources := defaultSources
		if raw := r.URL.Query().Get("sources"); raw != "" {
			sources = strings.Split(raw, ",")
		}
		key := diffDataKey(sources)

		if r.URL.Query().Get("refresh") == "1" {
			cache.Invalidate(key)
		}

		resp, err := cache.GetOrSet(r.Context(), key, ttl, func(pctx context.Context) (*model.DiffDataResponse, error) {
			return env.Pipeline.BuildDiffData(pctx, sources)
		})
		if err != nil {
			zap.L().Error("diff-data request failed", zap.Error(err))
			http.Error(w, `{"error":"reconciliation failed"}`, http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}

// startServer runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func startServer(ctx context.Context, mux http.Handler, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}
