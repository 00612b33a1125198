// Package app wires the pool registry, its GORM backend and the metrics
// stack into an Fx application, and implements the CLI commands on top.
package app

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm"
	_ "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm/mysql"    // MySQL spatial dialect
	_ "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm/postgres" // PostGIS dialect
	_ "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/gorm/sqlite"   // SpatiaLite dialect
	config "github.com/tigerroll/spatialpool/pkg/spatial/core/config"
	inframetrics "github.com/tigerroll/spatialpool/pkg/spatial/infrastructure/metrics"
	"github.com/tigerroll/spatialpool/pkg/spatial/pool"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

const moduleName = "app"

// Start and stop budgets for the Fx lifecycle.
const (
	startTimeout = 15 * time.Second
	stopTimeout  = 30 * time.Second
)

// Options selects the configuration an application run uses.
type Options struct {
	Raw         config.RawConfig
	EnvFilePath string
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// Runtime is what commands get to work with.
type Runtime struct {
	Config   *config.Config
	Registry *pool.Registry
}

// modules returns every Fx option of the application.
func modules(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(
			opts.Raw,
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		inframetrics.Module,
		gormadapter.Module,
		pool.Module,
		fx.Invoke(func(*config.Config) {
			if opts.LogLevel != "" {
				logger.SetLogLevel(opts.LogLevel)
			}
		}),
	)
}

// Run starts the application, calls fn and stops the application again,
// closing every pool fn opened. Errors from fn and from stopping are
// reported together.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, rt *Runtime) error) error {
	var rt Runtime
	app := fx.New(
		modules(opts),
		fx.Populate(&rt.Config, &rt.Registry),
	)
	if err := app.Err(); err != nil {
		return exception.New(moduleName, "failed to build application", err)
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return exception.New(moduleName, "failed to start application", err)
	}

	var errs *multierror.Error
	if err := fn(ctx, &rt); err != nil {
		errs = multierror.Append(errs, err)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		errs = multierror.Append(errs, exception.New(moduleName, "failed to stop application cleanly", err))
	}
	if errs != nil && len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	return errs.ErrorOrNil()
}

// OpenPool returns the registry pool for the named data source.
func (rt *Runtime) OpenPool(ctx context.Context, name string) (*pool.ConnectionPool, error) {
	cfg, err := rt.Config.Datasource(name)
	if err != nil {
		return nil, err
	}
	return rt.Registry.GetOrCreate(ctx, cfg)
}
