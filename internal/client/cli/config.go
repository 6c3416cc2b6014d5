package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tunnelproxy/internal/client/cli/ui"
	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  "Manage Tunnel Proxy client configuration (relay, local port, tunnel name)",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  "Initialize Tunnel Proxy configuration with interactive prompts",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration after flags, environment and config file are applied",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set configuration values",
	Long:  "Set specific configuration values (server, port, tunnel name, metrics address)",
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration",
	Long:  "Delete the configuration file",
	RunE:  runConfigReset,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the configuration file",
	RunE:  runConfigValidate,
}

var (
	configForce       bool
	configServer      string
	configPort        int
	configTunnelName  string
	configMetricsAddr string
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configValidateCmd)

	configSetCmd.Flags().StringVar(&configServer, "server", "", "Relay URL (e.g., wss://relay.example.com)")
	configSetCmd.Flags().IntVar(&configPort, "port", 0, "Local port to forward to")
	configSetCmd.Flags().StringVar(&configTunnelName, "name", "", "Tunnel name requested from the relay")
	configSetCmd.Flags().StringVar(&configMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address")

	configResetCmd.Flags().BoolVar(&configForce, "force", false, "Force reset without confirmation")

	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultClientConfigPath()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	fmt.Fprint(cmd.OutOrStdout(), ui.RenderConfigInit())

	cfg, err := promptConfig(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	path := configPath()
	if err := config.SaveClientConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderConfigSaved(path))
	return nil
}

// promptConfig asks for each setting, falling back to the built-in default
// on an empty answer.
func promptConfig(r *bufio.Reader, w io.Writer) (*config.ClientConfig, error) {
	ask := func(label, def string) string {
		fmt.Fprint(w, ui.Muted(fmt.Sprintf("%s [%s]: ", label, def)))
		answer, _ := r.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return def
		}
		return answer
	}

	cfg := &config.ClientConfig{
		Server:     ask("Relay URL", constants.DefaultServerURL),
		TunnelName: ask("Tunnel name", constants.DefaultTunnelName),
	}

	portText := ask("Local port", strconv.Itoa(constants.DefaultLocalPort))
	port, err := parsePort(portText)
	if err != nil {
		return nil, err
	}
	cfg.LocalPort = port

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(settings, cfgFile)
	if err != nil {
		return err
	}

	path := configPath()
	view := ui.ConfigView{
		Server:      cfg.Server,
		LocalPort:   cfg.LocalPort,
		TunnelName:  cfg.TunnelName,
		MetricsAddr: cfg.MetricsAddr,
		Insecure:    cfg.Insecure,
		Verbose:     cfg.Verbose,
		Path:        path,
	}
	if !config.ConfigExists(path) {
		view.Source = "No config file found; showing defaults and environment"
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderConfigShow(view))
	return nil
}

func runConfigSet(cmd *cobra.Command, _ []string) error {
	path := configPath()
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		cfg = &config.ClientConfig{
			Server:     constants.DefaultServerURL,
			LocalPort:  constants.DefaultLocalPort,
			TunnelName: constants.DefaultTunnelName,
		}
	}

	updates := applyConfigUpdates(cfg, cmd)
	if len(updates) == 0 {
		return fmt.Errorf("no changes specified. Use --server, --port, --name or --metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.SaveClientConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderConfigUpdated(updates))
	return nil
}

// applyConfigUpdates copies the flags that were set onto cfg and describes each change.
func applyConfigUpdates(cfg *config.ClientConfig, cmd *cobra.Command) []string {
	var updates []string
	flags := cmd.Flags()

	if flags.Changed("server") {
		cfg.Server = configServer
		updates = append(updates, "Server updated: "+configServer)
	}
	if flags.Changed("port") {
		cfg.LocalPort = configPort
		updates = append(updates, fmt.Sprintf("Local port updated: %d", configPort))
	}
	if flags.Changed("name") {
		cfg.TunnelName = configTunnelName
		if configTunnelName == "" {
			updates = append(updates, "Tunnel name cleared")
		} else {
			updates = append(updates, "Tunnel name updated: "+configTunnelName)
		}
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = configMetricsAddr
		updates = append(updates, "Metrics address updated: "+configMetricsAddr)
	}
	return updates
}

func runConfigReset(cmd *cobra.Command, _ []string) error {
	path := configPath()

	if !config.ConfigExists(path) {
		fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found")
		return nil
	}

	if !configForce {
		fmt.Fprint(cmd.OutOrStdout(), "Are you sure you want to delete the configuration? (y/N): ")
		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
			return nil
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete configuration: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderConfigDeleted())
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClientConfig(configPath())
	insecure := cfg != nil && cfg.Insecure

	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderConfigValidation(err, insecure))

	if err != nil {
		return fmt.Errorf("invalid configuration")
	}
	return nil
}
