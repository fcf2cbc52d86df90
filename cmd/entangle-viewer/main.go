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

	"github.com/parevo/entangle/internal/config"
	"github.com/parevo/entangle/internal/health"
	"github.com/parevo/entangle/internal/logging"
	"github.com/parevo/entangle/internal/protocol"
	"github.com/parevo/entangle/internal/session"
	"github.com/parevo/entangle/internal/viewerpipeline"
)

var (
	version      = "0.1.0"
	cfgFile      string
	signalingURL string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "entangle-viewer",
	Short: "Entangle remote-desktop Viewer",
	Long:  `entangle-viewer connects to a Host's peer ID and receives its screen.`,
}

var connectCmd = &cobra.Command{
	Use:   "connect [host-peer-id]",
	Short: "Connect to a Host",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runViewer(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("entangle-viewer v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/entangle/entangle.yaml)")
	connectCmd.Flags().StringVar(&signalingURL, "signaling", "", "signaling broker URL (overrides config signaling_url)")

	rootCmd.AddCommand(connectCmd)
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

// runViewer connects to hostPeerIDStr and drains video frames until the
// session ends or a shutdown signal arrives. It has no GUI layer: received
// frames are only counted and logged, and the local-input feed
// (viewerpipeline.InputChan) is left unfed, since injecting synthetic
// cursor/keyboard events from a headless process has no meaningful source.
func runViewer(hostPeerIDStr string) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	if signalingURL != "" {
		cfg.SignalingURL = signalingURL
	}

	remotePeer, ok := protocol.ParsePeerIdLenient(hostPeerIDStr)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid peer id: %s\n", hostPeerIDStr)
		os.Exit(1)
	}

	peerID := protocol.NewPeerId()
	if cfg.PeerID != "" {
		if parsed, ok := protocol.ParsePeerId(cfg.PeerID); ok {
			peerID = parsed
		}
	}

	log.Info("starting viewer", "version", version, "peerId", peerID.String(), "remotePeer", remotePeer.String())

	sessCfg := session.Config{
		SignalingURL: cfg.SignalingURL,
		RemotePeerID: remotePeer,
		Quality:      protocol.ParseQualityPreset(cfg.Quality),
		STUNServer:   cfg.STUNServer,
	}

	sess := session.New(peerID, protocol.RoleViewer, sessCfg)
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

	var framesReceived uint64

	active, err := sess.Connect(ctx, func(ev session.Event) {
		handleViewerEvent(ev, &framesReceived)
	})
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer active.Disconnect()

	log.Info("session active")

	pipeline := viewerpipeline.New(active, monitor)
	if err := pipeline.Run(ctx, func(ev session.Event) {
		handleViewerEvent(ev, &framesReceived)
	}); err != nil {
		log.Error("pipeline stopped with error", "error", err)
	}

	log.Info("viewer stopped", "framesReceived", framesReceived)
}

func handleViewerEvent(ev session.Event, framesReceived *uint64) {
	switch ev.Kind {
	case session.EventStateChanged:
		log.Info("state changed", "state", ev.State.String())
	case session.EventVideoFrame:
		*framesReceived++
		log.Debug("video frame", "frameId", ev.FrameID, "bytes", len(ev.FrameData), "keyframe", ev.IsKeyframe)
	case session.EventStats:
		log.Debug("stats", "fps", ev.StatsSnapshot.FPS, "bitrateKbps", ev.StatsSnapshot.BitrateKbps)
	case session.EventError:
		log.Error("session error", "error", ev.Err)
	}
}
