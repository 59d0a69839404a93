package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Serve starts an HTTP server exposing r's registry at /metrics on
// addr. It runs until ctx is canceled and logs (rather than returns)
// a failed Shutdown, matching the driver's fire-and-forget use: a
// stuck metrics endpoint should never block process exit.
func Serve(ctx context.Context, addr string, r *Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logrus.WithError(err).Warn("metrics server shutdown")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Warn("metrics server stopped")
		}
	}()
}
