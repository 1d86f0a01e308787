package runtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const httpShutdownTimeout = 5 * time.Second

// HTTPService serves handler on the bind address. Cancelling the bind context
// shuts the server down gracefully, which counts as a clean exit.
func HTTPService(handler http.Handler) Service {
	return ServiceFunc(func(ctx context.Context, addr string) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			<-errCh
			return nil
		}
	})
}
