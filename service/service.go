package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run serves the core's router on the configured listen address until ctx
// is canceled, then shuts down gracefully.
func (c *Core) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.conf.Listen)
	if err != nil {
		return err
	}
	c.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version))
	srv := &http.Server{
		Handler:           c.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
