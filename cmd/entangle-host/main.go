package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parevo/entangle/internal/capture"
	"github.com/parevo/entangle/internal/config"
	"github.com/parevo/entangle/internal/encoder"
	"github.com/parevo/entangle/internal/health"
	"github.com/parevo/entangle/internal/hostpipeline"
	"github.com/parevo/entangle/internal/inputinjector"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/session"
)

var (
	version      = "0.1.0"
	cfgFile      string
	listenAddr   string
	signalingURL string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "entangle-host",
	Short: "Entangle remote-desktop Host",
	Long:  `entangle-host shares this machine's screen and accepts input from an approved Viewer.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Host and wait for a Viewer",
	Run: func(cmd *cobra.Command, args []string) {
		runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entangle-host v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/entangle/entangle.yaml)")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "transport listen address (overrides config listen_addr)")
	runCmd.Flags().StringVar(&signalingURL, "signaling", "", "signaling broker URL (overrides config signaling_url)")

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

// runHost owns the peer identity and config for this run; once Connect
// succeeds it hands the ActiveSession to hostpipeline and blocks until the
// session ends or a shutdown signal arrives.
func runHost() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if signalingURL != "" {
		cfg.SignalingURL = signalingURL
	}

	peerID := protocol.NewPeerId()
	if cfg.PeerID != "" {
		if parsed, ok := protocol.ParsePeerId(cfg.PeerID); ok {
			peerID = parsed
		} else {
			log.Warn("configured peer_id is invalid, generating a random one", "peer_id", cfg.PeerID)
		}
	}

	log.Info("starting host", "version", version, "peerId", peerID.String(), "signaling", cfg.SignalingURL)
	fmt.Printf("Your peer ID is: %s\n", peerID.String())
	fmt.Println("Share this with a Viewer so they can connect.")

	sessCfg := session.Config{
		SignalingURL: cfg.SignalingURL,
		Quality:      protocol.ParseQualityPreset(cfg.Quality),
		STUNServer:   cfg.STUNServer,
		ListenAddr:   cfg.ListenAddr,
	}
	if sessCfg.ListenAddr == "" {
		sessCfg.ListenAddr = fmt.Sprintf(":%d", session.DefaultTransportPort)
	}

	sess := session.New(peerID, protocol.RoleHost, sessCfg)
	monitor := health.NewMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown requested, disconnecting")
		cancel()
	}()

	resourceTicker := time.NewTicker(15 * time.Second)
	defer resourceTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-resourceTicker.C:
				monitor.UpdateResources()
			}
		}
	}()

	active, err := sess.Connect(ctx, func(ev session.Event) {
		handleHostEvent(sess, ev)
	})
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer active.Disconnect()

	log.Info("session active", "remotePeer", sess.RemotePeerID().String())

	capturer := capture.NewStub(0, 0)
	enc := encoder.NewStub()
	processor := inputinjector.NewProcessor(inputinjector.NewStub())

	pipeline := hostpipeline.New(active, capturer, enc, processor, monitor)
	if err := pipeline.Run(ctx, func(ev session.Event) {
		handleHostEvent(sess, ev)
	}); err != nil {
		log.Error("pipeline stopped with error", "error", err)
	}

	log.Info("host stopped")
}

// handleHostEvent approves the first incoming connection automatically;
// a real UI would surface this to the operator instead.
func handleHostEvent(sess *session.Session, ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		log.Info("state changed", "state", ev.State.String())
	case session.EventIncomingConnection:
		log.Info("incoming connection, auto-approving", "from", ev.From.String())
		if err := sess.ResolvePendingConnection(ev.From, true); err != nil {
			log.Warn("failed to approve incoming connection", "error", err)
		}
	case session.EventStats:
		log.Debug("stats", "fps", ev.StatsSnapshot.FPS, "bitrateKbps", ev.StatsSnapshot.BitrateKbps)
	case session.EventError:
		log.Error("session error", "error", ev.Err)
	}
}
