package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jakopako/goverify/internal/watch"
	"github.com/spf13/cobra"
)

var watchOpts runFlags

func init() {
	addRunFlags(watchCmd, &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [scenario...]",
	Short: "re-run scenarios whenever the configuration changes",
	Long: `Runs the scenarios once and again every time a config file changes,
until interrupted. Failed runs do not stop the watch.`,
	ValidArgsFunction: completeScenarioNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = defaultConfigFile
		}
		w, err := watch.New(path)
		if err != nil {
			return fmt.Errorf("nothing to watch, pass a config file or directory: %w", err)
		}
		configPath = path

		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		runOnce := func(ctx context.Context) {
			config, err := loadConfig()
			if err != nil {
				slog.Error(err.Error())
				return
			}
			if _, err := execute(ctx, out, errOut, config, args, &watchOpts); err != nil && !errors.Is(err, ErrRunFailed) {
				slog.Error(err.Error())
			}
			slog.Info(fmt.Sprintf("watching %s for changes", path))
		}

		ctx := cmd.Context()
		runOnce(ctx)
		return w.Run(ctx, runOnce)
	},
}
