package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	go2tvadapters "go2tv.app/tvlink/internal/adapters/go2tv"
	"go2tv.app/tvlink/internal/advertise"
	"go2tv.app/tvlink/internal/bridge"
	"go2tv.app/tvlink/internal/buildinfo"
	"go2tv.app/tvlink/internal/config"
	"go2tv.app/tvlink/internal/diagnostics"
	"go2tv.app/tvlink/internal/discovery"
	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/lifecycle"
	"go2tv.app/tvlink/internal/logging"
	"go2tv.app/tvlink/internal/metrics"
	"go2tv.app/tvlink/internal/pairing"
	"go2tv.app/tvlink/internal/player"
	"go2tv.app/tvlink/internal/registry"
	"go2tv.app/tvlink/internal/renderer"
	"go2tv.app/tvlink/internal/session"
	"go2tv.app/tvlink/internal/status"
)

const (
	serverName      = "tvlink"
	shutdownTimeout = 5 * time.Second
	peerHistorySize = 64
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
	} `json:"go2tv_adapters"`
	Network diagnostics.NetworkReport `json:"network"`
	Config  config.Config             `json:"config"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "dotenv file with TVLINK_* overrides; ignored when missing")
	selfTest := flag.Bool("self-test", false, "print wiring, network and config diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	showQR := flag.Bool("qr", false, "print a pairing QR code once the server is listening")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	bundle := go2tvadapters.NewBundle()

	if *selfTest {
		out := selfTestOutput{
			Network: diagnostics.DetectNetwork(cfg.Server.Host, cfg.Server.Port),
			Config:  cfg,
		}
		out.Server.Name = serverName
		out.Server.Version = buildinfo.Version
		out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
		out.Go2TVAdapters.CastWired = bundle.CastFactory != nil

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, bundle, *showQR); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, bundle go2tvadapters.Bundle, showQR bool) error {
	runCtx, stopSignals := lifecycle.NotifyContext(context.Background())
	defer stopSignals()

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info(
		"tvlink_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("platform", cfg.Device.Platform),
		slog.Int("port", cfg.Server.Port),
	)

	platform, err := domain.ParsePlatform(cfg.Device.Platform)
	if err != nil {
		return err
	}
	identity := domain.NewIdentity(cfg.Device.Name, platform, uint16(cfg.Server.Port))

	sessions := session.NewMemoryStore()
	cookies, err := session.NewJarCookieStore()
	if err != nil {
		return fmt.Errorf("cookie store: %w", err)
	}
	controller := player.New(player.Config{Logger: logger})
	defer controller.Close()
	queue := player.NewQueue()
	m := metrics.New()

	sessionBridge, err := bridge.New(bridge.Config{
		DeviceID: identity.ID(),
		Session:  sessions,
		Cookies:  cookies,
		Player:   controller,
		Queue:    queue,
		Cookie: bridge.CookieConfig{
			URL:    cfg.Cookie.URL,
			Name:   cfg.Cookie.Name,
			Domain: cfg.Cookie.Domain,
			Path:   cfg.Cookie.Path,
		},
		PairingCode: cfg.Pairing.Code,
		Acknowledge: cfg.Pairing.Acknowledge,
		Observer:    m,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	history, err := registry.NewPeerHistory(peerHistorySize)
	if err != nil {
		return err
	}

	serverCfg := pairing.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		MaxConnections: cfg.Server.MaxConnections,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ServiceType:    cfg.Advertise.Service,
		Domain:         cfg.Advertise.Domain,
		Capabilities:   cfg.Advertise.Capabilities,
		Identity:       identity,
		Presence:       sessionBridge,
		Dispatcher:     sessionBridge,
		Observer:       m,
		History:        history,
		Logger:         logger,
	}
	if cfg.Advertise.Enabled {
		advertiser, err := advertise.New(advertise.Config{Backend: cfg.Advertise.Backend, Logger: logger})
		if err != nil {
			return err
		}
		defer advertiser.Stop()
		serverCfg.Advertiser = advertiser
	}
	server := pairing.New(serverCfg)
	sessionBridge.Attach(server)

	var rend *renderer.Renderer
	if cfg.Renderer.Target != "" {
		rend = renderer.New(renderer.Config{
			Target:           cfg.Renderer.Target,
			PollInterval:     cfg.Renderer.PollInterval,
			DiscoveryTimeout: cfg.Renderer.DiscoveryTimeout,
			Discovery:        discovery.NewService(bundle.Discovery, runCtx),
			CastFactory:      bundle.CastFactory,
			Player:           controller,
			Metrics:          m,
			Logger:           logger,
		})
	}

	if err := server.Start(runCtx); err != nil {
		return err
	}
	if showQR {
		identity.Refresh(time.Now())
		qr, err := pairingQR(identity.Snapshot())
		if err != nil {
			logger.Warn("pairing_qr_failed", slog.String("error", err.Error()))
		} else {
			fmt.Println(qr)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		<-gctx.Done()
		return stopWithTimeout(server.Stop, shutdownTimeout)
	})
	if cfg.Status.Addr != "" {
		snapshotFn := func() status.Snapshot {
			return snapshot(server, sessionBridge, controller, queue, rend)
		}
		updateGauges := func() {
			loggedIn, _ := sessionBridge.LoginState()
			m.SetLoggedIn(loggedIn)
		}
		router := status.NewRouter(status.Config{
			Snapshot:     snapshotFn,
			Metrics:      m,
			UpdateGauges: updateGauges,
			Logger:       logger,
		})
		g.Go(func() error {
			return status.Serve(gctx, cfg.Status.Addr, router, logger)
		})
	}
	if rend != nil {
		g.Go(func() error {
			return rend.Run(gctx)
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		logger.Warn("tvlink_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("tvlink_stopping", slog.String("reason", "signal"))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func snapshot(server *pairing.Server, b *bridge.Bridge, controller *player.Controller, queue *player.Queue, rend *renderer.Renderer) status.Snapshot {
	loggedIn, userID := b.LoginState()
	out := status.Snapshot{
		Version:     buildinfo.Version,
		Device:      server.Identity().Snapshot(),
		Server:      server.State().String(),
		Connections: server.ConnectionCount(),
		LoggedIn:    loggedIn,
		UserID:      userID,
		QueueLength: queue.Len(),
		Peers:       server.Peers(),
		Player:      controller.State(),
	}
	if addr := server.Addr(); addr != nil {
		out.Addr = addr.String()
	}
	if src, ok := controller.Source(); ok {
		out.Source = &src
	}
	if rend != nil {
		st := rend.Status()
		out.Renderer = &status.RendererInfo{
			Target:    st.Target,
			Device:    st.Device,
			Connected: st.Connected,
			LastError: st.LastError,
		}
	}
	return out
}

// stopWithTimeout runs stop and gives up waiting after timeout.
func stopWithTimeout(stop func(), timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		stop()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown did not finish within %s", timeout)
	}
}
