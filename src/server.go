// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"resqenv/src/env"
)

// statusServer exposes the live statistics of a running batch evaluation.
type statusServer struct {
	stats *env.RunStats
}

// startStatusServer serves /status until ctx is cancelled, then shuts the
// server down gracefully.
func startStatusServer(ctx context.Context, port string, stats *env.RunStats) error {
	srv := &statusServer{stats: stats}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", srv.statusHandler)

	otelHandler := otelhttp.NewHandler(mux, "resqenv-status-server")

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: otelHandler,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("status server startup failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
	}
	return nil
}

func (s *statusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stats.Snapshot())
}
