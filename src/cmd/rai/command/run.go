package command

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rkanadev/raiblocks/src/alarm"
	"github.com/rkanadev/raiblocks/src/config"
	"github.com/rkanadev/raiblocks/src/metrics"
	"github.com/rkanadev/raiblocks/src/node"
	"github.com/rkanadev/raiblocks/src/service"
	vers "github.com/rkanadev/raiblocks/src/version"
)

// CliConfig carries the flags that live outside the persisted node config.
type CliConfig struct {
	DataDir     string `mapstructure:"datadir"`
	ServiceAddr string `mapstructure:"service-listen"`
	NoService   bool   `mapstructure:"no-service"`
	LogLevel    string `mapstructure:"log"`
	PeeringPort uint16 `mapstructure:"port"`
}

func NewDefaultCliConfig() *CliConfig {
	return &CliConfig{
		DataDir:     defaultDataDir(),
		ServiceAddr: "127.0.0.1:8000",
		LogLevel:    config.DefaultLogLevel,
		PeeringPort: config.ActiveProfile().DefaultPeeringPort,
	}
}

var (
	cliConfig *CliConfig
	datadir   *string
	version   *bool
)

func init() {
	cliConfig = NewDefaultCliConfig()

	cobra.OnInitialize(initConfig)

	datadir = rootCmd.PersistentFlags().StringP("datadir", "d", cliConfig.DataDir, "Base configuration directory")

	rootCmd.PersistentFlags().Uint16P("port", "p", cliConfig.PeeringPort, "UDP peering port")
	rootCmd.PersistentFlags().StringP("service-listen", "s", cliConfig.ServiceAddr, "HTTP service listen IP:Port")
	rootCmd.PersistentFlags().Bool("no-service", cliConfig.NoService, "Disable the HTTP service")
	rootCmd.PersistentFlags().String("log", cliConfig.LogLevel, "Log level (debug, info, warn, error, fatal, panic)")

	version = rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version and exit")
}

func initConfig() {
	viper.AddConfigPath(*datadir)
	viper.SetConfigName("rai")

	viper.BindPFlags(rootCmd.PersistentFlags())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using flag overrides from", viper.ConfigFileUsed())
	}

	if err := viper.Unmarshal(cliConfig); err != nil {
		fmt.Println(err, ". Taking cli or default.")
	}
}

var rootCmd = &cobra.Command{
	Use:   "rai",
	Short: "Account-chain cryptocurrency node",
	Long:  "Account-chain cryptocurrency node with representative voting",
	Run: func(cmd *cobra.Command, args []string) {
		if *version {
			fmt.Println(vers.Version)

			return
		}

		conf := loadNodeConfig(cliConfig.DataDir)
		conf.Logging.Level = cliConfig.LogLevel
		if cliConfig.PeeringPort != 0 {
			conf.PeeringPort = cliConfig.PeeringPort
		}

		logger := conf.Logging.Logger(cliConfig.DataDir)

		logger.WithFields(logrus.Fields{
			"datadir":        cliConfig.DataDir,
			"network":        conf.Profile.Name,
			"port":           conf.PeeringPort,
			"service-listen": cliConfig.ServiceAddr,
			"io-threads":     conf.IOThreads,
		}).Debug("RUN")

		a := alarm.New(logger.WithField("prefix", "alarm"))
		defer a.Stop()

		n, init := node.NewNode(conf, cliConfig.DataDir, a, nil, logger)
		if init.Error() {
			logger.WithFields(logrus.Fields{
				"block_store_init": init.BlockStoreInit,
				"wallet_init":      init.WalletInit,
			}).Error("Cannot initialize node")

			os.Exit(1)
		}

		registry := metrics.NewRegistry()
		n.RegisterMetrics(registry)

		if !cliConfig.NoService {
			serviceServer := service.NewService(cliConfig.ServiceAddr, n, registry, logger.WithField("prefix", "service"))

			go serviceServer.Serve()
		}

		n.Start()

		sigintCh := make(chan os.Signal, 1)
		signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		<-sigintCh

		n.Stop()
	},
}

// loadNodeConfig reads the persisted JSON config, writing defaults (or an
// upgraded document) back to disk.
func loadNodeConfig(dataDir string) *config.NodeConfig {
	conf := config.NewDefaultConfig()
	path := filepath.Join(dataDir, config.DefaultConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if out, err := conf.SerializeJSON(); err == nil {
			os.MkdirAll(dataDir, 0700)
			os.WriteFile(path, out, 0600)
		}
		return conf
	}

	upgraded, err := conf.DeserializeJSON(data)
	if err != nil {
		fmt.Println("Cannot parse config:", err, ". Taking defaults.")
		return config.NewDefaultConfig()
	}
	if upgraded {
		if out, err := conf.SerializeJSON(); err == nil {
			os.WriteFile(path, out, 0600)
		}
	}

	return conf
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rai")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)

		os.Exit(1)
	}
}
