package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var validatePaths []string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check scenario files without running them",
	Long:  "Load each scenario with strict field checking and assemble its network. Unknown fields, dangling references and invalid parameters are reported.",
	Run: func(cmd *cobra.Command, args []string) {
		if failed := validateScenarios(cmd.OutOrStdout(), validatePaths); failed > 0 {
			logrus.Fatalf("%d of %d scenarios are invalid", failed, len(validatePaths))
		}
	},
}

// validateScenarios builds every scenario and returns how many failed.
func validateScenarios(out io.Writer, paths []string) int {
	failed := 0
	for _, path := range paths {
		sc, err := LoadScenario(path)
		if err == nil {
			_, err = Build(sc)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "%s: ok (%d stations, %d queues, %d pools)\n", path, len(sc.Stations), len(sc.Queues), len(sc.Pools))
	}
	return failed
}

func init() {
	validateCmd.Flags().StringArrayVar(&validatePaths, "config", nil, "Scenario YAML file (can be repeated)")
	_ = validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(validateCmd)
}
