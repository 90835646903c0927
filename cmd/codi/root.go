package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/bootstrap"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/config"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// rootOptions holds the persistent flags. Empty strings mean "not set",
// so the config loader's own precedence chain stays in charge.
type rootOptions struct {
	configPath  string
	dataDir     string
	logLevel    string
	serverAddr  string
	metricsAddr string
	llmProvider string
	llmModel    string
}

// loadConfig resolves the effective configuration for a subcommand. An
// explicit --config wins; otherwise the usual file locations are searched.
func (o *rootOptions) loadConfig() (config.Config, config.Metadata, error) {
	opts := []config.Option{config.WithOverrides(o.overrides())}
	path := o.configPath
	if path == "" {
		path = discoverConfigPath()
	}
	if path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	return config.Load(opts...)
}

func (o *rootOptions) overrides() config.Overrides {
	var ov config.Overrides
	if o.dataDir != "" {
		ov.DataDir = &o.dataDir
	}
	if o.logLevel != "" {
		ov.LogLevel = &o.logLevel
	}
	if o.serverAddr != "" {
		ov.ServerAddr = &o.serverAddr
	}
	if o.metricsAddr != "" {
		ov.MetricsAddr = &o.metricsAddr
	}
	if o.llmProvider != "" {
		ov.LLMProvider = &o.llmProvider
	}
	if o.llmModel != "" {
		ov.LLMModel = &o.llmModel
	}
	return ov
}

// discoverConfigPath searches the conventional locations for codi.json.
// A missing file is not an error; defaults and environment still apply.
func discoverConfigPath() string {
	v := viper.New()
	v.SetConfigName("codi")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.codi")
	v.AddConfigPath("/etc/codi")
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "codi",
		Short: "Cybersecurity agent runtime and operator tools",
		Long: fmt.Sprintf(`%s runs the agent API and administers its stores.

Configuration comes from codi.json (searched in ., $HOME/.codi, /etc/codi),
CODI_* environment variables, and flags, in rising precedence.

%s
  codi serve                                # run the API server
  codi serve --cache-snapshot cache.bin     # persist the cache across runs
  codi status --addr localhost:8080         # check a running server
  codi user create --username root --role admin
  codi cache prewarm --queries common.txt --snapshot cache.bin`,
			bold("codi "+bootstrap.Version), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to codi.json")
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.serverAddr, "server-addr", "", "Override the API listen address")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Override the metrics listen address")
	rootCmd.PersistentFlags().StringVar(&opts.llmProvider, "llm-provider", "", "Override the LLM provider (openai, mock)")
	rootCmd.PersistentFlags().StringVar(&opts.llmModel, "llm-model", "", "Override the LLM model")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	rootCmd.AddCommand(newCacheCommand(opts))
	rootCmd.AddCommand(newUserCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
