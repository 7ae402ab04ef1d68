package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ineyio/metergate"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "metergate",
		Short:         "Metered inference gateway with prepaid balances",
		Long:          "metergate admits generation requests, dispatches them across inference providers with fallback, and debits each user's prepaid balance.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "metergate.yaml", "path to the YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newTopupCmd(opts),
		newBalanceCmd(opts),
		newQuoteCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadConfig() (metergate.Config, error) {
	cfg, err := metergate.LoadConfig(o.configPath)
	if err != nil {
		return metergate.Config{}, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(o.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if o.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
