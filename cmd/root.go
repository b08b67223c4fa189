/*
Package cmd implements the synapse command-line interface: the hub server,
an operator client, key generation, and first-run bootstrap.
*/
package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/synapse/pkg/logging"
	"github.com/theapemachine/synapse/pkg/registry"
	"github.com/theapemachine/synapse/pkg/rpc"
)

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "A trust-brokered JSON-RPC message hub",
	Long:  longRoot,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(viper.GetString("LOG_LEVEL"), viper.GetBool("DEBUG"))
	},
}

/*
Execute is the entry point for the synapse CLI.
*/
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
}

/*
initConfig resolves configuration environment-first: a .env file is loaded
when present, real environment variables win over it, and anything left
unset falls back to the defaults below.
*/
func initConfig() {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded .env")
	}

	viper.AutomaticEnv()

	viper.SetDefault("HOST", "localhost")
	viper.SetDefault("PORT", 8765)
	viper.SetDefault("TLS_KEY", "")
	viper.SetDefault("TLS_CERT", "")
	viper.SetDefault("DATABASE_URL", "synapse.db")
	viper.SetDefault("FERNET_KEY", "")
	viper.SetDefault("JWT_SECRET", "secret")
	viper.SetDefault("JWT_ALGORITHM", "HS256")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("METRICS_ADDR", "")
	viper.SetDefault("MAX_FRAME_BYTES", rpc.DefaultMaxFrameBytes)
	viper.SetDefault("OUTBOX_SIZE", registry.DefaultOutboxSize)
	viper.SetDefault("HANDSHAKE_RATE", 0)
}

/*
longRoot contains the detailed help text for the root command.
*/
var longRoot = `
synapse is a message hub that brokers JSON-RPC 2.0 payloads between
authenticated applications over length-prefixed TLS streams. Who receives
what is decided by stored permissions, never by the sender.
`
