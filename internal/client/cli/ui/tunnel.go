package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const tunnelCardWidth = 76

var (
	statusOKColor       = lipgloss.Color("#22c55e") // 2xx
	statusRedirectColor = lipgloss.Color("#eab308") // 3xx
	statusClientColor   = lipgloss.Color("#f97316") // 4xx
	statusServerColor   = lipgloss.Color("#ef4444") // 5xx
)

// TunnelStatus is what the active-tunnel card shows
type TunnelStatus struct {
	PublicURL  string
	LocalURL   string
	TunnelName string
}

// SessionSummary is printed once the client exits
type SessionSummary struct {
	Requests   int64
	Failed     int64
	BytesIn    int64
	BytesOut   int64
	Reconnects int64
	Uptime     time.Duration
}

// RenderBanner renders the startup banner
func RenderBanner(version, server string, localPort int, tunnelName string) string {
	if tunnelName == "" {
		tunnelName = Muted("auto-generated")
	}
	return Info(
		"Tunnel Proxy Go Client "+Muted("v"+version),
		KeyValue("Server", server),
		KeyValue("Local Port", fmt.Sprintf("%d", localPort)),
		KeyValue("Tunnel Name", tunnelName),
	)
}

// RenderNoLocalServer renders the pre-flight warning
func RenderNoLocalServer(port int) string {
	return Warning(fmt.Sprintf("No server detected on localhost:%d", port)) + "\n" +
		Muted("  Make sure your local server is running before connecting.")
}

// RenderConnecting renders the connecting message
func RenderConnecting(serverAddr string) string {
	return Highlight("◌") + " Connecting to tunnel server " + Muted(serverAddr) + "..."
}

// RenderConnected renders the transport-open message
func RenderConnected() string {
	return Success("Connected to tunnel server")
}

// RenderTunnelActive renders the card shown once the relay assigned a public URL
func RenderTunnelActive(status *TunnelStatus) string {
	accent := primaryColor

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(1, 2).
		Width(tunnelCardWidth)

	badge := lipgloss.NewStyle().
		Background(accent).
		Foreground(lipgloss.Color("#f8fafc")).
		Bold(true).
		Padding(0, 1).
		Render("HTTP TUNNEL")

	headline := lipgloss.JoinHorizontal(
		lipgloss.Left,
		lipgloss.NewStyle().Foreground(accent).Render("🌐"),
		lipgloss.NewStyle().Bold(true).MarginLeft(1).Render("Tunnel active!"),
		lipgloss.NewStyle().MarginLeft(2).Render(badge),
	)

	hint := lipgloss.NewStyle().
		Foreground(statusClientColor).
		Render("Ctrl+C to stop • reconnects automatically")

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		headline,
		"",
		KeyValue("Public URL", urlStyle.Copy().Foreground(accent).Render(status.PublicURL)),
		KeyValue("Local URL", status.LocalURL),
		KeyValue("Tunnel Name", status.TunnelName),
		"",
		Muted("Your local server is now accessible from the internet!"),
		hint,
	)

	return "\n" + card.Render(content) + "\n"
}

// RenderConnectionFailed renders connection failure message
func RenderConnectionFailed(err error) string {
	return Error(fmt.Sprintf("Failed to connect: %v", err))
}

// RenderDisconnected renders the close code and reason of a lost connection
func RenderDisconnected(code int, reason string) string {
	line := Error(fmt.Sprintf("Disconnected from tunnel server (code: %d)", code))
	if reason != "" {
		line += "\n" + Muted("  Reason: "+reason)
	}
	return line
}

// RenderStale renders the liveness timeout message
func RenderStale(silence time.Duration) string {
	return Error(fmt.Sprintf("Pong timeout after %s, connection is stale. Reconnecting...", silence.Round(time.Second)))
}

// RenderRetrying renders retry message
func RenderRetrying(delay time.Duration, attempt, maxAttempts int) string {
	return Warning(fmt.Sprintf("Reconnecting in %s... (attempt %d/%d)", formatDelay(delay), attempt, maxAttempts))
}

// RenderMaxAttempts renders the fatal reconnect-exhausted message
func RenderMaxAttempts() string {
	return ErrorBox(
		"Max reconnection attempts reached",
		Muted("Please check your connection and try again."),
	)
}

// RenderShuttingDown renders shutdown message
func RenderShuttingDown() string {
	return Warning("⏹  Shutting down...")
}

// RenderRequest renders one relayed request
func RenderRequest(method, url string, status int, duration time.Duration) string {
	statusView := lipgloss.NewStyle().
		Foreground(statusColor(status)).
		Bold(true).
		Render(fmt.Sprintf("%d", status))

	return fmt.Sprintf("%s %s %s %s %s",
		Muted(time.Now().Format("15:04:05")),
		valueStyle.Render(fmt.Sprintf("%-7s", method)),
		url,
		Muted("→"),
		statusView+" "+Muted("("+formatDuration(duration)+")"),
	)
}

// RenderSummary renders the session summary
func RenderSummary(s SessionSummary) string {
	lines := []string{
		KeyValue("Requests", fmt.Sprintf("%d", s.Requests)),
		KeyValue("Failed", fmt.Sprintf("%d", s.Failed)),
		KeyValue("Traffic", Cyan(fmt.Sprintf("↓ %s  ↑ %s", formatBytes(s.BytesIn), formatBytes(s.BytesOut)))),
		KeyValue("Reconnects", fmt.Sprintf("%d", s.Reconnects)),
		KeyValue("Uptime", s.Uptime.Round(time.Second).String()),
	}
	return Info("Session Summary", lines...)
}

func statusColor(status int) lipgloss.Color {
	switch {
	case status >= 500:
		return statusServerColor
	case status >= 400:
		return statusClientColor
	case status >= 300:
		return statusRedirectColor
	default:
		return statusOKColor
	}
}

// formatDelay prints whole seconds when possible
func formatDelay(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// formatBytes formats bytes to human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
