package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/utilitywarehouse/proposal-mirror/mcpserver"
	"github.com/utilitywarehouse/proposal-mirror/mirror"
	"github.com/utilitywarehouse/proposal-mirror/proposal"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"

	shutdownTimeout = 10 * time.Second
)

var (
	// set at build time via ldflags
	version = "dev"

	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("PROPOSAL_MIRROR_CONFIG"),
			Value:   "/etc/proposal-mirror/config.yaml",
			Usage:   "Absolute path to the config file.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level",
		},
		&cli.StringFlag{
			Name:    "transport",
			Sources: cli.EnvVars("PROPOSAL_MIRROR_TRANSPORT"),
			Value:   transportStdio,
			Usage:   "MCP transport, 'stdio' serves over stdin/stdout, 'http' serves on /mcp of the http server",
			Validator: func(v string) error {
				if v != transportStdio && v != transportHTTP {
					return fmt.Errorf("transport must be '%s' or '%s'", transportStdio, transportHTTP)
				}
				return nil
			},
		},
	}
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	// stdout is reserved for the MCP stdio transport
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func main() {
	cmd := &cli.Command{
		Name:    "proposal-mirror",
		Usage:   "proposal-mirror mirrors a proposals repository locally and serves its documents over MCP.",
		Version: version,
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {

			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}

			prometheus.MustRegister(configSuccess, configSuccessTime)
			mirror.EnableMetrics("", prometheus.DefaultRegisterer)

			conf, err := loadConfig(c.String("config"), c.IsSet("config"), c.String("transport"))
			if err != nil {
				logger.Error("unable to load config file", "err", err)
				os.Exit(1)
			}

			m, err := mirror.New(conf.Mirror.Config, nil, logger.With("logger", "mirror"))
			if err != nil {
				logger.Error("could not create mirror", "err", err)
				os.Exit(1)
			}

			cleanupOrphanedWorkingCopies(conf.Mirror.Root, m.Name())

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := m.Initialize(ctx); err != nil {
				logger.Error("unable to initialize mirror", "remote", m.Remote(), "err", err)
				os.Exit(1)
			}
			defer m.Teardown()

			return run(ctx, c.String("transport"), conf, m)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		os.Exit(1)
	}
}

// run serves mirrored proposals until ctx is done, stdio client
// disconnects or ops http server fails
func run(ctx context.Context, transport string, conf *Config, m *mirror.Mirror) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := proposal.NewStore(m, conf.Proposals, logger.With("logger", "proposals"))
	mcpSrv := mcpserver.New(store, m, version, logger.With("logger", "mcp"))

	worker := newRefreshWorker(m, conf.Mirror.RefreshInterval, logger.With("logger", "refresh"))
	go worker.Run(ctx)

	var ops *http.Server
	opsErr := make(chan error, 1)

	if conf.Server.HTTPBindAddress == "" {
		if conf.Server.GithubWebhookSecret != "" {
			logger.Warn("github webhook secret is set but http server is disabled, set http_bind_address to receive webhooks")
		}
	} else {
		// bind before serving MCP so address in use is a startup failure
		ln, err := net.Listen("tcp", conf.Server.HTTPBindAddress)
		if err != nil {
			return fmt.Errorf("unable to start http server err:%w", err)
		}
		ops = &http.Server{
			Handler: newOpsMux(conf.Server, m, worker, mcpSrv, transport),
		}
		go func() {
			logger.Info("starting http server", "address", ln.Addr().String())
			if err := ops.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				opsErr <- fmt.Errorf("http server failed err:%w", err)
				cancel()
			}
		}()
	}

	var err error
	switch transport {
	case transportStdio:
		err = mcpserver.ServeStdio(ctx, mcpSrv, os.Stdin, os.Stdout, logger.With("logger", "mcp"))
		if ctx.Err() != nil {
			err = nil
		}
	default:
		<-ctx.Done()
	}

	logger.Info("shutting down")

	if ops != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if sErr := ops.Shutdown(shutdownCtx); sErr != nil {
			logger.Error("unable to shutdown http server", "err", sErr)
		}
	}

	select {
	case oErr := <-opsErr:
		return errors.Join(oErr, err)
	default:
		return err
	}
}

// Initializer reports whether mirror holds a working copy
type Initializer interface {
	IsInitialized() bool
	Remote() string
}

func newOpsMux(conf ServerConfig, m Initializer, worker *refreshWorker, mcpSrv *server.MCPServer, transport string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !m.IsInitialized() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not initialized"))
			return
		}
		w.Write([]byte("ok"))
	})

	if conf.GithubWebhookSecret != "" {
		mux.Handle("/github-webhook", &GithubWebhookHandler{
			remote: m.Remote(),
			queue:  worker.QueueRefresh,
			secret: conf.GithubWebhookSecret,
			log:    logger.With("logger", "github-webhook"),
		})
	}

	if transport == transportHTTP {
		mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))
	}

	return mux
}
