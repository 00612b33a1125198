package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	config "github.com/tigerroll/spatialpool/pkg/spatial/core/config"
	metrics "github.com/tigerroll/spatialpool/pkg/spatial/core/metrics"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// RecorderParams are the dependencies of NewRecorderProvider.
type RecorderParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.MetricsConfig
}

// RecorderResult is what NewRecorderProvider provides.
type RecorderResult struct {
	fx.Out
	Recorder metrics.PoolRecorder
	Tracer   metrics.Tracer
}

// NewRecorderProvider builds the recorder and tracer selected by the metrics
// config. OTLP export is set up whenever an endpoint is configured; the
// Prometheus endpoint is served only while the application runs.
func NewRecorderProvider(p RecorderParams) (RecorderResult, error) {
	cfg := p.Config
	res := RecorderResult{
		Recorder: metrics.NewNoOpPoolRecorder(),
		Tracer:   metrics.NewNoOpTracer(),
	}

	if cfg.OTLP.Endpoint != "" {
		providers, err := SetupOTLP(context.Background(), cfg.OTLP)
		if err != nil {
			return RecorderResult{}, err
		}
		p.Lifecycle.Append(fx.Hook{OnStop: providers.Shutdown})
		res.Tracer = NewOpenTelemetryTracer()
	}

	switch cfg.Backend {
	case config.MetricsBackendPrometheus:
		rec := NewPrometheusRecorder()
		res.Recorder = rec
		if cfg.Listen != "" {
			appendMetricsServer(p.Lifecycle, cfg.Listen, rec.Handler())
		}
	case config.MetricsBackendOTel:
		rec, err := NewOpenTelemetryRecorder()
		if err != nil {
			return RecorderResult{}, err
		}
		res.Recorder = rec
		res.Tracer = NewOpenTelemetryTracer()
	}
	return res, nil
}

func appendMetricsServer(lc fx.Lifecycle, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server on %s stopped: %v", addr, err)
				}
			}()
			logger.Infof("Serving Prometheus metrics on %s/metrics", ln.Addr())
			return nil
		},
		OnStop: srv.Shutdown,
	})
}

// Module provides the PoolRecorder and Tracer selected by *config.MetricsConfig.
var Module = fx.Options(
	fx.Provide(NewRecorderProvider),
)
