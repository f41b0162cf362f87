package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"example.com/playbacktelemetry/internal/logging"
)

// HTTPServer is the part of *http.Server the supervisor drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server as a suture.Service. Cancelling the
// Serve context drains in-flight requests for at most the drain timeout.
type HTTPServerService struct {
	srv   HTTPServer
	drain time.Duration
	log   zerolog.Logger
}

func NewHTTPServerService(srv HTTPServer, drain time.Duration) *HTTPServerService {
	if drain <= 0 {
		drain = DefaultTreeConfig().ShutdownTimeout
	}
	return &HTTPServerService{srv: srv, drain: drain, log: logging.Component("http")}
}

// Serve blocks while the server listens. A listen failure is returned so the
// supervisor restarts the service; a requested stop returns ctx.Err().
func (s *HTTPServerService) Serve(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() {
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		listenErr <- err
	}()

	select {
	case err := <-listenErr:
		if err == nil {
			return nil
		}
		s.log.Error().Err(err).Msg("listener stopped")
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Dur("drain", s.drain).Msg("draining http connections")
	drainCtx, cancel := context.WithTimeout(context.Background(), s.drain)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain http connections: %w", err)
	}
	<-listenErr
	s.log.Info().Msg("http server stopped")
	return ctx.Err()
}

func (s *HTTPServerService) String() string { return "http-server" }
