package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/drawq/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(app *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consumer loop of every configured account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if metricsAddr == "" {
				metricsAddr = app.cfg.Metrics.Addr
			}
			return serve(ctx, app, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (default metrics.addr); \"off\" disables it")

	return cmd
}

func serve(ctx context.Context, app *app, metricsAddr string) error {
	rt, err := app.runtime(ctx, true)
	if err != nil {
		return err
	}
	logger := app.logger.WithName("serve")

	if err := syncAccounts(ctx, app, rt); err != nil {
		logger.Error(err, "Some accounts could not be loaded")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return rt.dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		refreshAccounts(groupCtx, app, rt, app.cfg.Accounts.Refresh)
		return nil
	})
	if metricsAddr != "" && metricsAddr != "off" {
		metrics.Register(prometheus.DefaultRegisterer)
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("Serving metrics", "addr", metricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("Dispatcher started", "accounts", len(rt.dispatcher.Instances()), "backend", app.cfg.Backend)
	err = group.Wait()
	logger.Info("Dispatcher stopped")
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func syncAccounts(ctx context.Context, app *app, rt *runtime) error {
	accounts, err := app.accounts.List(ctx)
	if err != nil {
		return err
	}
	if _, err := rt.dispatcher.Sync(accounts); err != nil {
		return fmt.Errorf("sync accounts: %w", err)
	}
	return nil
}

// refreshAccounts re-reads the account store every interval so edits made
// with `drawq account` reach the running instances.
func refreshAccounts(ctx context.Context, app *app, rt *runtime, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syncAccounts(ctx, app, rt); err != nil && ctx.Err() == nil {
				app.logger.Error(err, "Account refresh failed")
			}
		}
	}
}
