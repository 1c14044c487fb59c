package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Func adapts a blocking function to suture.Service.
type Func struct {
	name string
	run  func(ctx context.Context) error
}

// NewFunc names run for the supervisor's logs.
func NewFunc(name string, run func(ctx context.Context) error) *Func {
	return &Func{name: name, run: run}
}

func (f *Func) Serve(ctx context.Context) error { return f.run(ctx) }
func (f *Func) String() string                  { return f.name }

// HTTPService runs an http.Server until its context ends, then shuts it
// down gracefully. With a listener it serves on it (the tailnet case),
// otherwise on the server's Addr.
type HTTPService struct {
	server          *http.Server
	listen          func() (net.Listener, error)
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. listen may be nil.
func NewHTTPService(server *http.Server, listen func() (net.Listener, error), shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, listen: listen, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	var ln net.Listener
	var err error
	if h.listen != nil {
		ln, err = h.listen()
	} else {
		ln, err = net.Listen("tcp", h.server.Addr)
	}
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
