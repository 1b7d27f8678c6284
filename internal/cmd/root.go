package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/Iron-Ham/meilidash/internal/cmd/config"
	"github.com/Iron-Ham/meilidash/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "meilidash",
	Short: "Administer Meilisearch index settings from the terminal",
	Long: `Meilidash reads and edits the settings of Meilisearch indexes.

Edits go through a local draft: nothing is sent until the draft is saved,
and the confirmed settings are re-read once the service has accepted the
update.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/meilidash/config.yaml)")
	flags.String("host", "", "Meilisearch URL (default http://localhost:7700)")
	flags.String("api-key", "", "Meilisearch API key")
	flags.StringP("index", "i", "", "default index UID")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("meilisearch.host", flags.Lookup("host"))
	_ = viper.BindPFlag("meilisearch.api_key", flags.Lookup("api-key"))
	_ = viper.BindPFlag("meilisearch.index", flags.Lookup("index"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	configcmd.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/meilidash")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MEILIDASH")
	// e.g., MEILIDASH_MEILISEARCH_API_KEY for meilisearch.api_key
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
