package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var httpCmd = &cobra.Command{
	Use:   "http <port>",
	Short: "Start HTTP tunnel",
	Long: `Start an HTTP tunnel to expose a local HTTP server.

Example:
  tunnelproxy http 3000                  Tunnel localhost:3000
  tunnelproxy http 8080 --name myapp     Request tunnel name "myapp"
  tunnelproxy http 3000 -s ws://localhost:8080
                                         Use a local relay

Configuration:
  First time: Run 'tunnelproxy config init' to save the relay and port
  Subsequent: Just run 'tunnelproxy http <port>'`,
	Args: cobra.ExactArgs(1),
	RunE: runHTTP,
}

func init() {
	rootCmd.AddCommand(httpCmd)
}

func runHTTP(cmd *cobra.Command, args []string) error {
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadSettings(settings, cfgFile)
	if err != nil {
		return err
	}
	cfg.LocalPort = port

	return runTunnel(cmd.Context(), cfg)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	return port, nil
}
