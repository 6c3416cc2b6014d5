package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tunnelproxy/internal/client/cli/ui"
	"tunnelproxy/internal/shared/constants"
)

var (
	// Version information
	Version   = constants.ClientVersion
	GitCommit = "unknown"
	BuildTime = "unknown"

	cfgFile  string
	settings = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "tunnelproxy",
	Short: "Tunnel Proxy - expose a local HTTP server through a relay",
	Long: `Tunnel Proxy - expose a local HTTP server through a public relay

Keeps one WebSocket connection open to the relay, replays every request
it receives against http://localhost:<port> and sends the response back.
Reconnects automatically with exponential backoff.

Configuration (highest first):
  flags, environment (TUNNEL_SERVER, LOCAL_PORT, TUNNEL_NAME),
  config file (~/.tunnelproxy/config.yaml), built-in defaults

Examples:
  tunnelproxy                         # Use environment or config file
  tunnelproxy http 3000               # Tunnel localhost:3000
  tunnelproxy -p 3000 -n myapp        # Request tunnel name "myapp"
  tunnelproxy config init             # Save a config file`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ~/.tunnelproxy/config.yaml)")
	flags.StringP("server", "s", constants.DefaultServerURL, "Relay URL (http, https, ws or wss)")
	flags.StringP("name", "n", constants.DefaultTunnelName, "Tunnel name requested from the relay")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g., 127.0.0.1:9100)")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.BoolP("insecure", "k", false, "Skip TLS verification (testing only, NOT recommended)")
	rootCmd.Flags().IntP("port", "p", constants.DefaultLocalPort, "Local port to forward to")

	bindSettings(settings, flags)
	_ = settings.BindPFlag(keyLocalPort, rootCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(versionCmd)
	// http and config commands are added in their own init() functions
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(ui.Info(
			"Tunnel Proxy Client",
			ui.KeyValue("Version", Version),
			ui.KeyValue("Git Commit", GitCommit),
			ui.KeyValue("Build Time", BuildTime),
		))
	},
}

func runRoot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(settings, cfgFile)
	if err != nil {
		return err
	}
	return runTunnel(cmd.Context(), cfg)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version information
func SetVersion(version, commit, buildTime string) {
	Version = version
	GitCommit = commit
	BuildTime = buildTime
}
