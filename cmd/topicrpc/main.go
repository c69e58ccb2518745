// topicrpc issues and serves RPCs over a topic message broker.
//
// Each subcommand lives in the corresponding *.go file; main.go holds the
// root command and the helpers they share.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zeusync/topicrpc/internal/app"
	"github.com/zeusync/topicrpc/internal/config"
	"github.com/zeusync/topicrpc/internal/injector"
	"github.com/zeusync/topicrpc/pkg/observability/log"
)

var rootArgs struct {
	configPath string
	transport  string
	address    string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:           "topicrpc",
	Short:         "Request/reply RPC over a topic message broker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootArgs.configPath, "config", "", "config file path")
	f.StringVar(&rootArgs.transport, "transport", "", "override transport.kind (memory, amqp, websocket, quic)")
	f.StringVar(&rootArgs.address, "address", "", "override the broker uri (amqp) or bridge address (websocket, quic)")
	f.StringVar(&rootArgs.logLevel, "log-level", "", "override log.level")

	rootCmd.AddCommand(brokerCmd, callCmd, listenCmd, echoCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootArgs.configPath)
	if err != nil {
		return nil, err
	}
	if rootArgs.transport != "" {
		cfg.Transport.Kind = config.TransportKind(rootArgs.transport)
	}
	if rootArgs.address != "" {
		if cfg.Transport.Kind == config.TransportAMQP {
			cfg.Transport.URI = rootArgs.address
		} else {
			cfg.Transport.Address = rootArgs.address
		}
	}
	if rootArgs.logLevel != "" {
		cfg.Log.Level = rootArgs.logLevel
	}
	return cfg, cfg.Validate()
}

func connect(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return injector.InitializeApp(ctx, cfg)
}

// serveMetrics exposes reg on /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger log.Log) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", log.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
