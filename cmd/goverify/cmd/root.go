// Package cmd implements the goverify command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/spf13/cobra"
)

const appName = "goverify"

// defaultConfigFile is used when it exists and no config is given.
const defaultConfigFile = "goverify.yml"

// ErrRunFailed is returned when a step failed or a browser session could not
// be acquired.
var ErrRunFailed = errors.New("verification failed")

var (
	configPath string
	debugFlag  bool
	noColor    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", fmt.Sprintf("the location of the configuration, a single file or a directory containing config files (default: %s if present, the built-in scenarios otherwise)", defaultConfigFile))
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "set log level to 'debug'")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: fmt.Sprintf("%s drives a browser through verification scenarios against a web frontend.", appName),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Debug = debugFlag
		log.InitializeDefaultLogger()
		if noColor {
			color.NoColor = true
		}
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the configuration given by --config.
func loadConfig() (*scenario.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	config, err := scenario.NewConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

// completeScenarioNames completes arguments with the configured scenario names.
func completeScenarioNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	config, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Names(), cobra.ShellCompDirectiveNoFileComp
}
