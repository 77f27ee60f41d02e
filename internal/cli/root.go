package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "v0.1.0"

var rootCmd = &cobra.Command{
	Use:   "egresslite",
	Short: "Outbound HTTP throttling with sliding-window quotas and retries",
	Long: `egresslite keeps outbound HTTP traffic inside a remote service's rate
contract (for example 10 requests/second and 30/minute) and retries
transient failures with exponential backoff.

Run it as a proxy in front of your upstreams with "serve", or try a quota
against a URL with "probe".`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "./config.yaml", "config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides the config file")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig lets EGRESSLITE_CONFIG and EGRESSLITE_LOG_LEVEL stand in for flags.
func initConfig() {
	viper.SetEnvPrefix("EGRESSLITE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
