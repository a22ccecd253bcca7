package main

import (
	"fmt"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	appName    string
	port       int
	logLevel   string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "ella",
		Short: "Ella is a conversational companion that remembers the people it talks to",
		Example: `  ella serve                              # Run with default config
  ella serve --config config.yaml         # Use specific config file
  ella serve --port 9090 --log-level debug
  ella chat --user asha                   # Talk to Ella in the terminal
  ella version`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	pf.StringVar(&flags.appName, "app-name", "", "Override app name")
	pf.IntVar(&flags.port, "port", 0, "Override server port")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log level")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug mode")

	root.AddCommand(newServeCmd(flags), newChatCmd(flags), newVersionCmd())
	return root
}

func (f *globalFlags) overrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if f.appName != "" {
		overrides["app.name"] = f.appName
	}
	if f.port != 0 {
		overrides["server.port"] = f.port
	}
	if f.logLevel != "" {
		overrides["log.level"] = f.logLevel
	}
	if f.debug {
		overrides["app.debug"] = true
	}

	return overrides
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath, f.overrides())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration:\n%w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.ReplaceGlobal(log)
	return log
}
