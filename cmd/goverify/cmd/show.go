package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:               "show <scenario>",
	Short:             "print a scenario as yaml",
	Long:              "Prints the steps of a scenario in the config file format. Built-in scenarios can be used as a starting point for custom ones this way.",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeScenarioNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		scenarios, err := config.Select(args[0])
		if err != nil {
			return err
		}
		yamlData, err := yaml.Marshal(map[string]any{"scenarios": scenarios})
		if err != nil {
			return fmt.Errorf("error while marshalling: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(yamlData))
		return nil
	},
}
