package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/rollups/api/config"
	"golang.org/x/sync/errgroup"
)

var (
	// BuildVersion, BuildCommit, BuildDate are set from main via SetBuildInfo.
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"

	// shuttingDown makes the readiness probe fail immediately once shutdown starts.
	shuttingDown atomic.Bool
)

// SetBuildInfo sets the build info from ldflags values in main.
func SetBuildInfo(version, commit, date string) {
	BuildVersion = version
	BuildCommit = commit
	BuildDate = date
}

// MarkShuttingDown flips /readyz to 503.
func MarkShuttingDown() {
	shuttingDown.Store(true)
}

// GetPing answers the root route.
func GetPing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetVersion returns the current build version info.
func GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version": BuildVersion,
		"commit":  BuildCommit,
		"date":    BuildDate,
	})
}

// GetHealthz is the liveness probe.
func GetHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetReadyz pings every configured backend concurrently.
func GetReadyz(w http.ResponseWriter, r *http.Request) {
	if shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if config.DB != nil {
		g.Go(func() error {
			if err := config.DB.Ping(gctx); err != nil {
				return fmt.Errorf("clickhouse: %w", err)
			}
			return nil
		})
	}
	if config.PgPool != nil {
		g.Go(func() error {
			if err := config.PgPool.Ping(gctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return nil
		})
	}
	if config.Redis != nil {
		g.Go(func() error {
			if err := config.Redis.Ping(gctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database connection failed: " + SanitizeError(err)))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
