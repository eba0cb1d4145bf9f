package main

import (
	"github.com/spf13/cobra"

	"github.com/guidoenr/backdrop/internal/config"
	"github.com/guidoenr/backdrop/internal/logger"
)

type rootFlags struct {
	configPath string
	logLevel   string
	storePath  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "backdrop",
		Short:         "Backdrop renders album-art driven animated backgrounds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().StringVar(&flags.storePath, "store", "", "Override the configured state file")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newMemoryCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// load reads the config and applies the global overrides.
func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.storePath != "" {
		cfg.StorePath = f.storePath
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*logger.Logger, error) {
	return logger.New(logger.Options{Level: cfg.Log.Level, HumanReadable: cfg.Log.Human})
}
