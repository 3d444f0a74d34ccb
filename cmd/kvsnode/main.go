package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/squall/internal/config"
	"github.com/oriys/squall/internal/kvs/backend/pgstore"
	"github.com/oriys/squall/internal/kvs/backend/redisstore"
	kvsgrpc "github.com/oriys/squall/internal/kvs/grpc"
	"github.com/oriys/squall/internal/kvs/router"
	_ "github.com/oriys/squall/internal/kvs/rpcwire" // installs the JSON codec
	"github.com/oriys/squall/internal/logging"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "kvsnode",
		Short: "squall kvsnode - KVS storage backend for the DAG executor",
		Long:  "Serves the executor's KVS contract over gRPC, backed by Redis for normal-mode keys and Postgres for causal-mode keys",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON or YAML)")
	rootCmd.AddCommand(serveCmd())

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
		addr      string
		redisAddr string
		redisPass string
		redisDB   int
		pgDSN     string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the KVS gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("addr") {
				cfg.KVS.Addr = addr
			}
			if cmd.Flags().Changed("postgres-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel)

			normal, err := redisstore.New(redisAddr, redisPass, redisDB)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer normal.Close()

			ctx := context.Background()
			causal, err := pgstore.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer causal.Close()

			backend := router.New(normal, causal)
			server := &kvsgrpc.BackendServer{Backend: backend}

			lis, err := net.Listen("tcp", cfg.KVS.Addr)
			if err != nil {
				return fmt.Errorf("listen %q: %w", cfg.KVS.Addr, err)
			}

			grpcServer := grpc.NewServer()
			kvsgrpc.RegisterServer(grpcServer, server)

			logging.Op().Info("kvsnode serving", "addr", cfg.KVS.Addr, "postgres", cfg.Postgres.DSN)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logging.Op().Info("kvsnode shutdown signal received")
				grpcServer.GracefulStop()
			}()

			return grpcServer.Serve(lis)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":7000", "gRPC listen address")
	cmd.Flags().StringVar(&redisAddr, "redis", "localhost:6379", "Redis address (normal-mode backend)")
	cmd.Flags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "Redis database")
	cmd.Flags().StringVar(&pgDSN, "postgres-dsn", "", "Postgres DSN (causal-mode backend)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}
