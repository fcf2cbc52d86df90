package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parevo/entangle/internal/config"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/signaling/broker"
)

var (
	version = "0.1.0"
	cfgFile string
	listen  string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "entangle-signaling",
	Short: "Entangle signaling broker",
	Long:  `entangle-signaling runs the stateless peer-registration and candidate-relay broker Hosts and Viewers rendezvous through.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the broker",
	Run: func(cmd *cobra.Command, args []string) {
		runBroker()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entangle-signaling v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/entangle/entangle.yaml)")
	runCmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides config signaling_listen)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func runBroker() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	addr := cfg.SignalingListen
	if listen != "" {
		addr = listen
	}

	b := broker.New()
	server := &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting signaling broker", "version", version, "listen", addr)

	resourceTicker := time.NewTicker(15 * time.Second)
	defer resourceTicker.Stop()
	go func() {
		for range resourceTicker.C {
			b.Health().UpdateResources()
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("broker listener failed", "error", err)
			os.Exit(1)
		}
	case <-sigChan:
		log.Info("shutting down signaling broker")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("graceful shutdown failed", "error", err)
		}
	}

	log.Info("signaling broker stopped")
}
