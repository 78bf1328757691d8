package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	router "github.com/dkeye/bridge/internal/adapters/http"
	"github.com/dkeye/bridge/internal/adapters/rpc"
	"github.com/dkeye/bridge/internal/app"
	"github.com/dkeye/bridge/internal/app/orch"
	"github.com/dkeye/bridge/internal/authstate"
	"github.com/dkeye/bridge/internal/backend/loopback"
	"github.com/dkeye/bridge/internal/config"
	"github.com/dkeye/bridge/internal/transport"
)

func main() {
	var (
		configPath string
		host       string
		port       int
	)

	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "RPC bridge between a WebSocket client and an event-emitting backend",
		Long: `bridge binds an ephemeral port, prints PORT:<n> on stdout and serves
one WebSocket client that drives the backend with INIT, CALL, STATIC_CALL
and SUBSCRIBE frames.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return run(cmd.Context(), cfg, os.Stdout, os.Stderr)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	rootCmd.Flags().StringVar(&host, "host", "0.0.0.0", "interface to bind")
	rootCmd.Flags().IntVar(&port, "port", 0, "port to bind, 0 for an ephemeral port")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logs go to stderr; stdout carries the port announcement.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// run serves until ctx is done. out receives only the port announcement;
// every other line, gin's included, goes to logs.
func run(ctx context.Context, cfg *config.Config, out, logs io.Writer) error {
	level, err := app.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	backendLogger := log.Logger
	log.Logger = log.Logger.Level(level)

	policy, err := app.PolicyByName(cfg.BackpressurePolicy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(reg)

	session := app.NewSession()
	lifecycle := &app.Lifecycle{
		Session:         session,
		Fanout:          app.NewFanout(session, metrics, policy),
		Metrics:         metrics,
		Auth:            authstate.NewStore(afero.NewOsFs()),
		Factory:         loopback.Factory{},
		DefaultAuthPath: cfg.AuthPath,
		DefaultLogLevel: cfg.BackendLogLevel,
		Defaults:        cfg.Backend,
		Logger:          backendLogger,
	}
	dispatcher := orch.New(lifecycle, loopback.Statics())

	ctrl := rpc.NewRPCController(dispatcher, rpc.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
	})
	gin.DefaultWriter = logs
	gin.DefaultErrorWriter = logs
	r := router.SetupRouter(ctx, cfg, ctrl, reg)

	ln, err := transport.Listen(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}
	if err := transport.Announce(out, ln.Addr()); err != nil {
		_ = ln.Close()
		return err
	}

	err = transport.Serve(ctx, ln, r, cfg.ShutdownTimeout)

	drained := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn().Str("module", "main").Msg("calls still running at exit")
	}
	return err
}
