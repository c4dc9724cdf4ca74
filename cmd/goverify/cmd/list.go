package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCompletion bool

func init() {
	listCmd.Flags().BoolVarP(&listCompletion, "completion", "C", false, "print the names only and no errors, for autocompletion scripts")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list the available scenarios",
	Long:  "Lists the scenarios of the configuration, or the built-in scenarios if there is no configuration.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			if listCompletion {
				// in completion mode, we just return an empty output on error
				return nil
			}
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range config.Names() {
			if listCompletion {
				fmt.Fprintln(out, name)
				continue
			}
			s := config.Find(name)
			fmt.Fprintf(out, "%-20s %2d steps  %s\n", name, len(s.Steps), s.Description)
		}
		return nil
	},
}
