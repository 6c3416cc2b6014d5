package ui

import (
	"fmt"
)

// ConfigView is the configuration as shown by 'config show'
type ConfigView struct {
	Server      string
	LocalPort   int
	TunnelName  string
	MetricsAddr string
	Insecure    bool
	Verbose     bool
	Path        string
	// Source notes where the values came from when no file exists
	Source string
}

// RenderConfigInit renders config initialization UI
func RenderConfigInit() string {
	box := boxStyle.Copy().Width(50)
	return "\n" + box.Render(titleStyle.Render("Tunnel Proxy Configuration Setup")) + "\n"
}

// RenderConfigShow renders the config display
func RenderConfigShow(v ConfigView) string {
	tunnelName := v.TunnelName
	if tunnelName == "" {
		tunnelName = Muted("(auto-generated)")
	}
	metricsAddr := v.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = Muted("(disabled)")
	}

	lines := []string{
		KeyValue("Server", v.Server),
		KeyValue("Local Port", fmt.Sprintf("%d", v.LocalPort)),
		KeyValue("Tunnel Name", tunnelName),
		KeyValue("Metrics", metricsAddr),
		KeyValue("TLS Verify", enabledDisabled(!v.Insecure)),
		KeyValue("Verbose", enabledDisabled(v.Verbose)),
		KeyValue("Config", Muted(v.Path)),
	}
	if v.Source != "" {
		lines = append(lines, "", Muted(v.Source))
	}

	return Info("Current Configuration", lines...)
}

// RenderConfigSaved renders config saved message
func RenderConfigSaved(configPath string) string {
	return SuccessBox(
		"Configuration Saved",
		Muted("Config saved to: ")+configPath,
		"",
		Muted("You can now run 'tunnelproxy' without --server and --port flags"),
	)
}

// RenderConfigUpdated renders config updated message
func RenderConfigUpdated(updates []string) string {
	lines := make([]string, 0, len(updates)+2)
	for _, update := range updates {
		lines = append(lines, Success(update))
	}
	lines = append(lines, "", Muted("Configuration has been updated"))
	return SuccessBox("Configuration Updated", lines...)
}

// RenderConfigDeleted renders config deleted message
func RenderConfigDeleted() string {
	return SuccessBox("Configuration Deleted", Muted("Configuration file has been removed"))
}

// RenderConfigValidation renders config validation results
func RenderConfigValidation(err error, insecure bool) string {
	lines := []string{}

	if err == nil {
		lines = append(lines, Success("Server address and local port are valid"))
	} else {
		lines = append(lines, Error(err.Error()))
	}

	if insecure {
		lines = append(lines, Warning("TLS verification is disabled (not recommended)"))
	} else {
		lines = append(lines, Success("TLS verification is enabled"))
	}

	lines = append(lines, "", Muted("Configuration validation complete"))

	if err == nil && !insecure {
		return SuccessBox("Configuration Valid", lines...)
	}
	return WarningBox("Configuration Validation", lines...)
}

func enabledDisabled(value bool) string {
	if value {
		return "enabled"
	}
	return "disabled"
}
