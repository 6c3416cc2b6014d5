package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tunnelproxy/internal/client/cli/ui"
	"tunnelproxy/internal/client/metrics"
	"tunnelproxy/internal/client/tunnel"
	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/internal/shared/tuning"
	"tunnelproxy/internal/shared/utils"
	"tunnelproxy/pkg/config"
)

// runTunnel runs one tunnel session in the foreground until a signal arrives
// or the reconnection budget is spent.
func runTunnel(parent context.Context, cfg *config.ClientConfig) error {
	if err := utils.InitLogger(cfg.Verbose); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.Sync()

	logger := utils.GetLogger()
	tuning.Apply(tuning.DefaultClientConfig())

	fmt.Println(ui.RenderBanner(Version, cfg.Server, cfg.LocalPort, cfg.TunnelName))
	if cfg.Insecure {
		fmt.Println(ui.Warning("TLS verification is disabled (testing only)"))
	}

	if cfg.MetricsAddr != "" {
		ms := metrics.NewServer(cfg.MetricsAddr, logger)
		ms.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = ms.Shutdown(ctx)
		}()
	}

	if err := probeLocalServer(cfg.LocalPort, constants.PreflightTimeout); err != nil {
		logger.Debug("Local server probe failed", zap.Int("port", cfg.LocalPort), zap.Error(err))
		fmt.Println(ui.RenderNoLocalServer(cfg.LocalPort))
	}

	tcfg := tunnelConfig(cfg)
	client, err := tunnel.NewClient(tcfg, logger)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil {
		printSummary(client)
		return err
	}

	fmt.Println()
	fmt.Println(ui.RenderShuttingDown())
	if !client.WaitRequests(constants.ShutdownDrainTimeout) {
		fmt.Println(ui.Warning("Force closing (timeout)..."))
	}
	printSummary(client)
	fmt.Println(ui.Success("Tunnel closed"))
	return nil
}

// tunnelConfig maps resolved settings onto the client config and routes
// lifecycle events to the terminal.
func tunnelConfig(cfg *config.ClientConfig) *tunnel.Config {
	tcfg := tunnel.DefaultConfig()
	tcfg.ServerURL = cfg.Server
	tcfg.LocalPort = cfg.LocalPort
	tcfg.TunnelName = cfg.TunnelName
	tcfg.Insecure = cfg.Insecure

	localURL := fmt.Sprintf("http://localhost:%d", cfg.LocalPort)
	tcfg.Events = tunnel.Events{
		OnConnecting: func(serverURL string) {
			fmt.Println(ui.RenderConnecting(serverURL))
		},
		OnConnected: func() {
			fmt.Println(ui.RenderConnected())
		},
		OnConnectFailed: func(err error) {
			fmt.Println(ui.RenderConnectionFailed(err))
		},
		OnRegistered: func(publicURL, tunnelName string) {
			fmt.Print(ui.RenderTunnelActive(&ui.TunnelStatus{
				PublicURL:  publicURL,
				LocalURL:   localURL,
				TunnelName: tunnelName,
			}))
		},
		OnDisconnected: func(code int, reason string) {
			fmt.Println(ui.RenderDisconnected(code, reason))
		},
		OnStale: func(silence time.Duration) {
			fmt.Println(ui.RenderStale(silence))
		},
		OnReconnectScheduled: func(attempt, maxAttempts int, delay time.Duration) {
			fmt.Println(ui.RenderRetrying(delay, attempt, maxAttempts))
		},
		OnReconnectExhausted: func(int) {
			fmt.Println(ui.RenderMaxAttempts())
		},
		OnRequestDone: func(r tunnel.RequestResult) {
			fmt.Println(ui.RenderRequest(r.Method, r.URL, r.StatusCode, r.Duration))
		},
	}
	return tcfg
}

func printSummary(client *tunnel.Client) {
	snap := client.Stats().GetSnapshot()
	fmt.Println(ui.RenderSummary(ui.SessionSummary{
		Requests:   snap.TotalRequests,
		Failed:     snap.FailedRequests,
		BytesIn:    snap.TotalBytesIn,
		BytesOut:   snap.TotalBytesOut,
		Reconnects: snap.Reconnects,
		Uptime:     snap.Uptime,
	}))
}
