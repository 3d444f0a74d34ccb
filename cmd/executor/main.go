package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/squall/internal/cache"
	"github.com/oriys/squall/internal/config"
	"github.com/oriys/squall/internal/connpool"
	"github.com/oriys/squall/internal/dag"
	"github.com/oriys/squall/internal/domain"
	"github.com/oriys/squall/internal/executorloop"
	"github.com/oriys/squall/internal/funcreg"
	kvsgrpc "github.com/oriys/squall/internal/kvs/grpc"
	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"github.com/oriys/squall/internal/logging"
	"github.com/oriys/squall/internal/observability"
	"github.com/oriys/squall/internal/resolver"
	"github.com/oriys/squall/internal/runtimemetrics"
	"github.com/oriys/squall/internal/sink"
	"github.com/oriys/squall/internal/triggercoord"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "executor",
		Short: "squall executor - the per-node DAG step engine",
		Long:  "Runs the single-writer executor loop: receives DagTriggers and FunctionCalls, steps schedules through the DAG, and routes results onward",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")
	rootCmd.AddCommand(serveCmd(), drainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var (
		kvsAddr     string
		triggerAddr string
		callAddr    string
		httpAddr    string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the executor loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("kvs") {
				cfg.KVS.Addr = kvsAddr
			}
			if cmd.Flags().Changed("trigger-addr") {
				cfg.ExecutorLoop.TriggerAddr = triggerAddr
			}
			if cmd.Flags().Changed("call-addr") {
				cfg.ExecutorLoop.FunctionCallAddr = callAddr
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(ctx)

			if cfg.Observability.Metrics.Enabled {
				runtimemetrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			kvsConns := connpool.New(cfg.TriggerCoord.PusherIdleTTL)
			defer kvsConns.Close()
			conn, err := kvsConns.Get(cfg.KVS.Addr)
			if err != nil {
				return fmt.Errorf("dial kvsnode: %w", err)
			}
			kvsClient := kvsgrpc.NewClient(conn, cfg.KVS.RequestTimeout)

			consistency := domain.Consistency(cfg.KVS.DefaultConsistency)
			if !consistency.IsValid() {
				consistency = domain.Normal
			}

			res := resolver.New(kvsClient, cache.NewInMemoryCache())
			res.RetryInterval = cfg.KVS.ReadRetryInterval
			res.RetryWarnAfter = cfg.KVS.ReadRetryWarnAfter

			functions := funcreg.New(kvsClient, consistency)
			// User functions compile into this binary and register here
			// (funcreg.Register); none are wired in by default.

			pusher := triggercoord.New(cfg.TriggerCoord.PusherIdleTTL)
			defer pusher.Close()

			sinkConns := connpool.New(cfg.TriggerCoord.PusherIdleTTL)
			defer sinkConns.Close()
			dispatcher := sink.New(kvsClient, sinkConns, sink.AddressBook{ContinuationAddr: cfg.Scheduler.ContinuationAddr})
			dispatcher.CausalUnboundedRetry = cfg.Causal.UnboundedRetry
			dispatcher.CausalRetryTimeout = cfg.Causal.RetryTimeout

			engine := dag.New(res, functions, pusher, dispatcher)
			loop := executorloop.New(engine, cfg.ExecutorLoop.BatchWindow, cfg.ExecutorLoop.MaxBatchSize)

			runCtx, cancelRun := context.WithCancel(context.Background())
			go loop.Run(runCtx)
			defer func() { cancelRun(); loop.Close() }()

			triggerServer := grpc.NewServer()
			triggercoord.RegisterServer(triggerServer, loop)
			triggerLis, err := net.Listen("tcp", cfg.ExecutorLoop.TriggerAddr)
			if err != nil {
				return fmt.Errorf("listen trigger addr %q: %w", cfg.ExecutorLoop.TriggerAddr, err)
			}
			go func() {
				if err := triggerServer.Serve(triggerLis); err != nil {
					logging.Op().Error("trigger server stopped", "error", err)
				}
			}()

			var callServer *grpc.Server
			if cfg.ExecutorLoop.FunctionCallAddr != "" && cfg.ExecutorLoop.FunctionCallAddr != cfg.ExecutorLoop.TriggerAddr {
				callServer = grpc.NewServer()
				executorloop.RegisterCallServer(callServer, loop)
				callLis, err := net.Listen("tcp", cfg.ExecutorLoop.FunctionCallAddr)
				if err != nil {
					return fmt.Errorf("listen call addr %q: %w", cfg.ExecutorLoop.FunctionCallAddr, err)
				}
				go func() {
					if err := callServer.Serve(callLis); err != nil {
						logging.Op().Error("call server stopped", "error", err)
					}
				}()
			} else {
				executorloop.RegisterCallServer(triggerServer, loop)
			}

			var httpServer *http.Server
			if cfg.Daemon.HTTPAddr != "" {
				httpServer = startAdminServer(cfg.Daemon.HTTPAddr)
			}

			logging.Op().Info("executor started",
				"kvs", cfg.KVS.Addr,
				"trigger_addr", cfg.ExecutorLoop.TriggerAddr,
				"call_addr", cfg.ExecutorLoop.FunctionCallAddr,
				"batch_window", cfg.ExecutorLoop.BatchWindow.String())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("executor shutdown signal received")
			triggerServer.GracefulStop()
			if callServer != nil {
				callServer.GracefulStop()
			}
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(shutdownCtx)
				cancel()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kvsAddr, "kvs", "", "kvsnode gRPC address")
	cmd.Flags().StringVar(&triggerAddr, "trigger-addr", "", "Inbound DagTrigger address")
	cmd.Flags().StringVar(&callAddr, "call-addr", "", "Inbound FunctionCall address")
	cmd.Flags().StringVar(&httpAddr, "http", "", "Admin HTTP address (health/drain)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func drainCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Ask a running executor to stop accepting new batches and exit",
		Long:  "Posts to the running executor's admin HTTP endpoint (started with `serve --http`), triggering the same graceful shutdown path as SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(fmt.Sprintf("http://%s/drain", httpAddr), "application/json", nil)
			if err != nil {
				return fmt.Errorf("drain request: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("drain request: unexpected status %s", resp.Status)
			}
			fmt.Println("drain requested")
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "localhost:8080", "Target executor's admin HTTP address")
	return cmd
}

func startAdminServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /metrics", runtimemetrics.PrometheusHandler().ServeHTTP)
	mux.HandleFunc("POST /drain", func(w http.ResponseWriter, r *http.Request) {
		logging.Op().Info("drain requested via admin endpoint")
		w.WriteHeader(http.StatusOK)
		go func() {
			p, err := os.FindProcess(os.Getpid())
			if err == nil {
				_ = p.Signal(syscall.SIGTERM)
			}
		}()
	})

	srv := &http.Server{Addr: addr, Handler: observability.HTTPMiddleware(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("admin server stopped", "error", err)
		}
	}()
	return srv
}
