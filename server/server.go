// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorse-io/reel/base/log"
	"github.com/gorse-io/reel/config"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server serves the REST API until its context is cancelled.
type Server struct {
	*RestServer
	httpServer *http.Server
}

// NewServer creates a server for a ready engine.
func NewServer(recommender Recommender, cfg *config.Config) *Server {
	rest := NewRestServer(recommender, cfg.Recommend.DefaultN, cfg.Server.CacheTTL)
	return &Server{
		RestServer: rest,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           rest.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Serve blocks until ctx is done, then shuts the HTTP server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	go s.StartCache()
	defer s.StopCache()

	errs := make(chan error, 1)
	go func() {
		log.Logger().Info("start http server", zap.String("url", "http://"+s.httpServer.Addr))
		errs <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Trace(err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Logger().Info("shutdown http server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Trace(err)
		}
		return nil
	}
}
