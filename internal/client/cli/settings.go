package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/pkg/config"
)

const (
	keyServer      = "server"
	keyLocalPort   = "local_port"
	keyTunnelName  = "tunnel_name"
	keyMetricsAddr = "metrics_addr"
	keyInsecure    = "insecure"
	keyVerbose     = "verbose"
)

// bindSettings wires defaults, environment variables and flags into v.
// Flags only override when set on the command line.
func bindSettings(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetDefault(keyServer, constants.DefaultServerURL)
	v.SetDefault(keyLocalPort, constants.DefaultLocalPort)
	v.SetDefault(keyTunnelName, constants.DefaultTunnelName)
	v.SetDefault(keyMetricsAddr, "")
	v.SetDefault(keyInsecure, false)
	v.SetDefault(keyVerbose, false)

	// An empty TUNNEL_NAME asks the relay to pick a name.
	v.AllowEmptyEnv(true)
	_ = v.BindEnv(keyServer, "TUNNEL_SERVER")
	_ = v.BindEnv(keyLocalPort, "LOCAL_PORT")
	_ = v.BindEnv(keyTunnelName, "TUNNEL_NAME")
	_ = v.BindEnv(keyMetricsAddr, "TUNNEL_METRICS_ADDR")
	_ = v.BindEnv(keyInsecure, "TUNNEL_INSECURE")
	_ = v.BindEnv(keyVerbose, "TUNNEL_VERBOSE")

	if flags == nil {
		return
	}
	for key, flag := range map[string]string{
		keyServer:      "server",
		keyTunnelName:  "name",
		keyMetricsAddr: "metrics-addr",
		keyInsecure:    "insecure",
		keyVerbose:     "verbose",
	} {
		if f := flags.Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// loadSettings reads the optional config file and resolves the effective
// client configuration. A missing default config file is not an error;
// a missing explicit one is.
func loadSettings(v *viper.Viper, path string) (*config.ClientConfig, error) {
	explicit := path != ""
	if !explicit {
		path = config.DefaultClientConfigPath()
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &config.ClientConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
