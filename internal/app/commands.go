package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	config "github.com/tigerroll/spatialpool/pkg/spatial/core/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/pool"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/exception"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

// NewRootCommand builds the spatialpool command tree.
func NewRootCommand(version string) *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "spatialpool",
		Short: "Inspect and exercise pooled spatial database connections",
		Long: `spatialpool opens bounded connection pools against the data sources named
in its configuration file and reports on them.

Supported dialects are PostGIS (postgres), MySQL spatial (mysql) and
SpatiaLite (sqlite).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "spatialpool.yaml", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "Optional .env file loaded before the configuration")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newTablesCommand(&flags),
		newDescribeCommand(&flags),
		newStatsCommand(&flags),
		newProbeCommand(&flags),
		newServeCommand(&flags),
	)
	return root
}

func (f *rootFlags) options() (Options, error) {
	raw, err := os.ReadFile(f.configPath)
	if err != nil {
		return Options{}, exception.New(moduleName, fmt.Sprintf("failed to read config file %q", f.configPath), err)
	}
	return Options{Raw: config.RawConfig(raw), EnvFilePath: f.envFile, LogLevel: f.logLevel}, nil
}

func (f *rootFlags) run(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	opts, err := f.options()
	if err != nil {
		return err
	}
	return Run(cmd.Context(), opts, fn)
}

func newTablesCommand(flags *rootFlags) *cobra.Command {
	var describe bool
	cmd := &cobra.Command{
		Use:   "tables <datasource>",
		Short: "List the tables of a data source and their geometry columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, rt *Runtime) error {
				p, err := rt.OpenPool(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := p.RefreshSchemaCache(ctx)
				if err != nil {
					return err
				}
				for _, ref := range res.Skipped {
					logger.Warnf("Table %s could not be described and was skipped.", ref)
				}
				return writeTables(cmd.OutOrStdout(), p.Metadata(), describe)
			})
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "Print every geometry column with its type and SRID")
	return cmd
}

func writeTables(out io.Writer, cache *pool.MetadataCache, describe bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tCOLUMNS\tGEOMETRY")
	for _, ref := range cache.Tables() {
		tm, err := cache.Lookup(ref.QualifiedName())
		if err != nil {
			return err
		}
		geoms := tm.GeometryColumns()
		names := make([]string, 0, len(geoms))
		for _, c := range geoms {
			names = append(names, c.Name)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", ref, len(tm.Columns), strings.Join(names, ","))
		if describe {
			for _, c := range geoms {
				fmt.Fprintf(w, "  %s\t%s\tsrid=%d dim=%d\n", c.Name, c.Geometry.Type, c.Geometry.SRID, c.Geometry.Dimension)
			}
		}
	}
	return w.Flush()
}

func newDescribeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <datasource> <table>",
		Short: "Print the cached column metadata of one table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, rt *Runtime) error {
				p, err := rt.OpenPool(ctx, args[0])
				if err != nil {
					return err
				}
				if _, err := p.RefreshSchemaCache(ctx); err != nil {
					return err
				}
				tm, err := p.Metadata().Lookup(args[1])
				if err != nil {
					return err
				}
				return writeColumns(cmd.OutOrStdout(), tm)
			})
		},
	}
}

func writeColumns(out io.Writer, tm *database.TableMetadata) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "# %s\n", tm.Ref)
	fmt.Fprintln(w, "COLUMN\tTYPE\tNULL\tPK\tGEOMETRY")
	for _, c := range tm.Columns {
		geom := "-"
		if c.IsGeometry() {
			geom = fmt.Sprintf("%s(%d) dim=%d", c.Geometry.Type, c.Geometry.SRID, c.Geometry.Dimension)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", c.Name, c.DataType, c.Nullable, c.PrimaryKey, geom)
	}
	return w.Flush()
}

func newStatsCommand(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats [datasource...]",
		Short: "Open pools for the given data sources (default: all) and print their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, rt *Runtime) error {
				names := args
				if len(names) == 0 {
					names = rt.Config.DatasourceNames()
				}
				stats := make([]pool.Stats, 0, len(names))
				for _, name := range names {
					p, err := rt.OpenPool(ctx, name)
					if err != nil {
						return err
					}
					stats = append(stats, p.Stats())
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				return writeStats(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func writeStats(out io.Writer, stats []pool.Stats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tAVAILABLE\tIN USE\tMAX\tCREATED\tCLOSED\tEXHAUSTED\tTABLES")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Target, s.Available, s.InUse, s.Max, s.TotalCreated, s.TotalClosed, s.Exhaustions, s.CachedTables)
	}
	return w.Flush()
}

// ProbeResult summarises a probe run.
type ProbeResult struct {
	Acquired  int64
	Exhausted int64
	Failed    int64 // temporary failures other than exhaustion
	Elapsed   time.Duration
	Stats     pool.Stats
}

// Probe runs workers goroutines that each acquire and release a handle
// iterations times, holding it for hold. Exhaustion and other temporary
// failures are counted; anything else stops the probe.
func Probe(ctx context.Context, p *pool.ConnectionPool, workers, iterations int, hold time.Duration) (ProbeResult, error) {
	var acquired, exhausted, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for range iterations {
				h, err := p.Acquire(gctx)
				if err != nil {
					switch {
					case errors.Is(err, pool.ErrPoolExhausted):
						exhausted.Add(1)
						continue
					case exception.IsTemporary(err) && gctx.Err() == nil:
						logger.Debugf("Probe acquire failed, continuing: %v", err)
						failed.Add(1)
						continue
					}
					return err
				}
				acquired.Add(1)
				if hold > 0 {
					select {
					case <-time.After(hold):
					case <-gctx.Done():
					}
				}
				p.Release(h)
			}
			return nil
		})
	}
	err := g.Wait()
	return ProbeResult{
		Acquired:  acquired.Load(),
		Exhausted: exhausted.Load(),
		Failed:    failed.Load(),
		Elapsed:   time.Since(start),
		Stats:     p.Stats(),
	}, err
}

func newProbeCommand(flags *rootFlags) *cobra.Command {
	var (
		workers    int
		iterations int
		hold       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe <datasource>",
		Short: "Exercise a pool with concurrent acquire and release calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 || iterations < 1 {
				return fmt.Errorf("--workers and --iterations must be positive")
			}
			return flags.run(cmd, func(ctx context.Context, rt *Runtime) error {
				p, err := rt.OpenPool(ctx, args[0])
				if err != nil {
					return err
				}
				res, err := Probe(ctx, p, workers, iterations, hold)
				fmt.Fprintf(cmd.OutOrStdout(), "acquired=%d exhausted=%d failed=%d elapsed=%s created=%d max=%d\n",
					res.Acquired, res.Exhausted, res.Failed, res.Elapsed.Round(time.Millisecond), res.Stats.TotalCreated, res.Stats.Max)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "Concurrent workers")
	cmd.Flags().IntVarP(&iterations, "iterations", "n", 10, "Acquire/release cycles per worker")
	cmd.Flags().DurationVar(&hold, "hold", 10*time.Millisecond, "How long each worker holds a handle")
	return cmd
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep pools for every data source open until interrupted",
		Long: `serve opens a pool for every configured data source, loads its metadata
and keeps the pools open, refreshing metadata in the background when a
schema_refresh_interval is set. The configured metrics endpoint stays up
for the lifetime of the process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, func(ctx context.Context, rt *Runtime) error {
				for _, name := range rt.Config.DatasourceNames() {
					p, err := rt.OpenPool(ctx, name)
					if err != nil {
						return err
					}
					res, err := p.RefreshSchemaCache(ctx)
					if err != nil {
						if exception.IsFatal(err) {
							return err
						}
						logger.Warnf("Initial metadata load for '%s' failed, serving anyway: %v", name, err)
						continue
					}
					logger.Infof("Data source '%s' ready with %d tables.", name, res.Tables)
				}
				<-ctx.Done()
				logger.Infof("Shutting down %d pools.", rt.Registry.Len())
				return nil
			})
		},
	}
}
