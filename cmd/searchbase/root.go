package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adrianmcphee/searchbase"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	store  *searchbase.Store
	logger *searchbase.ZapLogger

	// RootCmd is the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "searchbase",
		Short: "typed object store over Redis with a search index",
		Long: fmt.Sprintf(`searchbase (v%s)

Operate on the key-value entries and search indexes written by the
searchbase library. Every flag can also be set through the environment
with the SEARCHBASE_ prefix, e.g. SEARCHBASE_INDEX_BACKEND=sets.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of searchbase",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "searchbase v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(pingCmd, getCmd, putCmd, delCmd, keysCmd, sizeCmd, existsCmd, clearCmd)
	RootCmd.AddCommand(searchCmd)
	RootCmd.AddCommand(serveMetricsCmd)

	flags := RootCmd.PersistentFlags()
	flags.String("host", searchbase.DefaultHost, "Redis host")
	flags.Int("port", searchbase.DefaultPort, "Redis port")
	flags.String("password", "", "Redis password")
	flags.Int("db", 0, "Redis logical database")
	flags.Duration("dial-timeout", 5*time.Second, "timeout for establishing the connection")
	flags.String("index-backend", searchbase.IndexBackendRediSearch, "search index backend (redisearch, sets)")
	flags.String("index-prefix", "", "key prefix of index documents or postings")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
}

// initConfig loads env files and points viper at the SEARCHBASE_ variables.
// Values from ConfigFromEnv become the defaults, so REDIS_ADDR and friends
// still apply when no SEARCHBASE_ variable or flag is given.
func initConfig() {
	// godotenv never overrides a variable that is already set
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	viper.SetEnvPrefix("searchbase")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	base := searchbase.ConfigFromEnv()
	viper.SetDefault("host", base.Host)
	viper.SetDefault("port", base.Port)
	viper.SetDefault("password", base.Password)
	viper.SetDefault("db", base.DB)
	viper.SetDefault("index-backend", base.IndexBackend)
	viper.SetDefault("index-prefix", base.IndexKeyPrefix)
}

// configFromViper builds the store configuration from flags and environment
func configFromViper() searchbase.Config {
	cfg := searchbase.DefaultConfig()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.Password = viper.GetString("password")
	cfg.DB = viper.GetInt("db")
	cfg.DialTimeout = viper.GetDuration("dial-timeout")
	cfg.IndexBackend = viper.GetString("index-backend")
	cfg.IndexKeyPrefix = viper.GetString("index-prefix")
	return cfg
}

// setupStore binds the command's flags and opens the store used by the
// subcommands. The metrics sink is chosen by the caller.
func setupStore(cmd *cobra.Command, metrics searchbase.Metrics) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var err error
	logger, err = searchbase.NewProductionZapLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}

	cfg := configFromViper()
	cfg.KeepAlive = true
	store, err = searchbase.NewStoreWithObservability(cfg, logger, metrics)
	return err
}

func setupKVStore(cmd *cobra.Command, _ []string) error {
	return setupStore(cmd, &searchbase.NoOpMetrics{})
}

func closeStore(*cobra.Command, []string) error {
	if store == nil {
		return nil
	}
	err := store.Close()
	_ = logger.Sync()
	return err
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
