package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/history"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	historyDB    string
	historyLimit int
	historyRun   string
)

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", fmt.Sprintf("the history database (default: the writer's db_path or %s)", history.DefaultPath))
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "the maximum number of runs to print")
	historyCmd.Flags().StringVarP(&historyRun, "run", "r", "", "print the steps of the run with this id, the short id is enough")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [scenario]",
	Short: "print past runs recorded by the sqlite writer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyDB
		if path == "" {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			path = config.Writer.DBPath
		}
		if path == "" {
			path = history.DefaultPath
		}
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		if historyRun != "" {
			id, err := store.Lookup(ctx, historyRun)
			if err != nil {
				return err
			}
			steps, err := store.Steps(ctx, id)
			if err != nil {
				return err
			}
			table.Header("Step", "Description", "Status", "Error", "Duration", "Artifact")
			for _, o := range steps {
				msg := string(o.ErrorKind)
				if o.Message != "" {
					msg = fmt.Sprintf("%s: %s", o.ErrorKind, o.Message)
				}
				if err := table.Append([]string{
					strconv.Itoa(o.Index), o.Description, string(o.Status), msg,
					o.Duration.Round(time.Millisecond).String(), o.Artifact,
				}); err != nil {
					return err
				}
			}
			return table.Render()
		}

		scenario := ""
		if len(args) > 0 {
			scenario = args[0]
		}
		runs, err := store.Recent(ctx, scenario, historyLimit)
		if err != nil {
			return err
		}
		table.Header("Run", "Scenario", "Status", "Failed steps", "Started", "Duration", "Driver", "Base URL")
		for _, r := range runs {
			if err := table.Append([]string{
				artifact.ShortID(r.RunID), r.Scenario, string(r.Status), strconv.Itoa(r.FailedSteps),
				r.StartedAt.Local().Format(time.DateTime), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
				r.Driver, r.BaseURL,
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}
