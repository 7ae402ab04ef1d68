package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ineyio/metergate"
	"github.com/ineyio/metergate/httpapi"
	"github.com/ineyio/metergate/meter"
	"github.com/ineyio/metergate/policy"
	"github.com/ineyio/metergate/provider/anthropic"
	"github.com/ineyio/metergate/provider/gemini"
	"github.com/ineyio/metergate/provider/mock"
	"github.com/ineyio/metergate/provider/openaicompat"
	"github.com/ineyio/metergate/provider/vertex"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		watch    bool
		useMocks bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Example: `  # Serve with the config in the working directory
  metergate serve

  # Serve with scripted providers for local testing
  metergate serve --mock`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, watch, useMocks)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload pricing and aliases when the config file changes")
	cmd.Flags().BoolVar(&useMocks, "mock", false, "register mock adapters instead of real providers")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, watch, useMocks bool) error {
	logger := root.logger(os.Stderr)
	slog.SetDefault(logger)

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	var providers []metergate.Provider
	if useMocks {
		providers = mockProviders()
	} else {
		providers, err = buildProviders(ctx, cfg)
		if err != nil {
			return err
		}
	}

	prom := meter.NewPromMeter(nil)
	gw, err := metergate.New(cfg, providers,
		metergate.WithBalanceStore(st.balances),
		metergate.WithPriceStore(st.prices),
		metergate.WithConfigStore(st.settings),
		metergate.WithUsageLog(st.usage),
		metergate.WithPolicy(policy.ByName(cfg.ChainPolicy)),
		metergate.WithMeter(meter.Multi{meter.NewLogMeter(logger.With("component", "meter")), prom}),
		metergate.WithLogger(logger.With("component", "gateway")),
	)
	if err != nil {
		return err
	}
	defer gw.Close()

	syncer, err := metergate.NewRateSyncer(gw.Rates(), cfg.Exchange.SyncSchedule, logger.With("component", "rates"))
	if err != nil {
		return err
	}
	syncer.Start()
	defer syncer.Stop()

	if watch {
		go func() {
			err := metergate.WatchConfig(ctx, root.configPath, func(next metergate.Config) {
				if err := gw.ApplyConfig(next); err != nil {
					logger.Error("apply reloaded config", "error", err)
				}
			}, logger.With("component", "config"))
			if err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	handler := httpapi.NewHandler(gw,
		httpapi.WithMetrics(prom.Handler()),
		httpapi.WithLogger(logger.With("component", "httpapi")),
	)
	return httpapi.Serve(ctx, httpapi.ServerConfig{
		Addr:            cfg.Server.Listen,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler, logger)
}

// buildProviders creates an adapter for every configured, enabled provider.
func buildProviders(ctx context.Context, cfg metergate.Config) ([]metergate.Provider, error) {
	var out []metergate.Provider
	for key, pc := range cfg.Providers {
		if pc.Disabled {
			continue
		}
		switch key {
		case metergate.ProviderOpenAI:
			out = append(out, openaicompat.NewOpenAI(openaicompat.WithBaseURL(pc.BaseURL)))
		case metergate.ProviderGroq:
			out = append(out, openaicompat.NewGroq(openaicompat.WithBaseURL(pc.BaseURL)))
		case metergate.ProviderAnthropic:
			out = append(out, anthropic.New(anthropic.WithBaseURL(pc.BaseURL)))
		case metergate.ProviderGemini:
			studio := gemini.New(gemini.WithBaseURL(pc.BaseURL))
			if pc.Project == "" {
				out = append(out, studio)
				continue
			}
			location := pc.Location
			if location == "" {
				location = "us-central1"
			}
			vx, err := vertex.New(ctx, pc.Project, location, vertex.WithFallback(studio))
			if err != nil {
				return nil, err
			}
			out = append(out, vx)
		}
	}
	return out, nil
}

func mockProviders() []metergate.Provider {
	keys := []metergate.ProviderKey{
		metergate.ProviderOpenAI,
		metergate.ProviderGemini,
		metergate.ProviderAnthropic,
		metergate.ProviderGroq,
	}
	out := make([]metergate.Provider, 0, len(keys))
	for _, k := range keys {
		out = append(out, mock.New(mock.WithName(string(k))))
	}
	return out
}
