// Package transport binds the bridge to a port and tells the launching
// process which one it got.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// PortPrefix starts the announcement line the launching process scans for.
const PortPrefix = "PORT:"

// Listen binds host:port. Port 0 picks an ephemeral port.
func Listen(host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Announce writes "PORT:<n>" on its own line to w.
func Announce(w io.Writer, addr net.Addr) error {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("announce: not a tcp address: %s", addr)
	}
	_, err := fmt.Fprintf(w, "%s%d\n", PortPrefix, tcp.Port)
	return err
}

// Serve runs handler on ln until ctx is cancelled, then shuts down within
// shutdownTimeout.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("module", "transport").Str("addr", ln.Addr().String()).Msg("bridge listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Str("module", "transport").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("server forced to shutdown")
		return err
	}
	log.Info().Str("module", "transport").Msg("server exited gracefully")
	return nil
}
