package main

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel    string
	metricsAddr string
	pprofAddr   string

	rootLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relaycored",
	Short: "Embedded VPN datapath daemon: DHCP client, encrypted UDP relay",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(logLevel)
		if err != nil {
			return fmt.Errorf("relaycored: building logger: %w", err)
		}
		rootLogger = log
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flags.StringVar(&pprofAddr, "pprof-addr", "", "address to serve pprof debug endpoints on (empty disables)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds a zap.Logger at the requested level, JSON-encoded to
// stderr, matching the pack's convention of structured-logging daemons
// (doublezero's collector, dranet's controller) rather than the
// teacher's own FIDL-host logging, which has no equivalent outside a
// Fuchsia process.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// startDebugServers launches the optional metrics and pprof HTTP
// listeners configured by --metrics-addr/--pprof-addr. Grounded on the
// teacher's netstack/pprof/export.go, which registers the same
// net/http/pprof handlers on a dedicated mux rather than the default
// ServeMux.
func startDebugServers(log *zap.Logger) {
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}
	if pprofAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		go func() {
			if err := http.ListenAndServe(pprofAddr, mux); err != nil {
				log.Error("pprof server exited", zap.Error(err))
			}
		}()
		log.Info("serving pprof", zap.String("addr", pprofAddr))
	}
}
