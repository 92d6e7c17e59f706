package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/internal/debug"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/rpc"
)

const (
	defaultServerAddr  = "localhost:26866"
	defaultMaxBodySize = 4 * 1024 * 1024
)

type serveFlags struct {
	storeFlags

	Address       string
	MaxBodySize   int64
	StatsInterval time.Duration
}

func newServeCmd(baseConfig *baseConfiguration) *cobra.Command {
	flags := &serveFlags{storeFlags: storeFlags{baseConfiguration: baseConfig}}
	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Serves module instances over REST API",
		Long: `Starts REST API server for creating module instances, growing and inspecting
their memories. Metrics are served on /metrics when prometheus exporter is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags)
		},
	}
	flags.addStoreFlags(cmd)
	cmd.Flags().StringVar(&flags.Address, "address", defaultServerAddr, "address to listen on")
	cmd.Flags().Int64Var(&flags.MaxBodySize, "max-body-size", defaultMaxBodySize, "maximum size of the request body in bytes")
	cmd.Flags().DurationVar(&flags.StatsInterval, "stats-interval", 0, "how often to log memory statistics, disabled when 0")
	return cmd
}

func serve(ctx context.Context, flags *serveFlags) (rErr error) {
	log := flags.observe.Logger()
	store, j, closeStore, err := flags.initStore()
	if err != nil {
		return err
	}
	defer func() { rErr = errors.Join(rErr, closeStore()) }()

	registrars := []rpc.Registrar{rpc.InstanceEndpoints(store, log)}
	if j != nil {
		registrars = append(registrars, rpc.JournalEndpoints(j, log))
	}
	srv := rpc.NewRESTServer(flags.Address, flags.MaxBodySize, flags.observe, log, registrars...)

	log.InfoContext(ctx, fmt.Sprintf("starting linmem: BuildInfo=%s", debug.ReadBuildInfo()))
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.InfoContext(ctx, "REST server starting on "+srv.Addr)
		err := httpsrv.Run(ctx, *srv, httpsrv.ShutdownTimeout(5*time.Second))
		log.InfoContext(ctx, "REST server exited", logger.Error(err))
		return err
	})

	if flags.StatsInterval > 0 {
		g.Go(func() error {
			reportStats(ctx, store, flags.StatsInterval, log)
			return nil
		})
	}

	err = g.Wait()
	return errors.Join(err, closeInstances(store))
}

func reportStats(ctx context.Context, store *instance.Store, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := store.Registry().Stats()
			log.InfoContext(ctx, fmt.Sprintf("%d instances, %d live views, %d bytes of memory", len(store.Instances()), st.LiveViews, st.ExternalBytes))
		}
	}
}

func closeInstances(store *instance.Store) error {
	var errs []error
	for _, h := range store.Instances() {
		if err := store.Close(context.Background(), h); err != nil {
			errs = append(errs, fmt.Errorf("closing instance %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}
