package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weft.dev/pkg/weft/internal/domain"
	m "weft.dev/pkg/weft/internal/model"
)

var applyParallelFlag int
var applyReportFlag string
var applyDryRunFlag bool
var applyDiffFlag bool

// applyCmd represents the apply command.
var applyCmd = newApplyCmd()

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [class-roots...]",
		Short: "Weave mixins into class files",
		Long:  applyLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := workflow.Apply(cmd.Context(), domain.ApplyArgs{
				ClassRoots: parsePaths(args),
				Output:     m.Path(viper.GetString(outputFlagName)),
				Config:     m.Path(viper.GetString(mixinsConfigKey)),
				Refmap:     m.Path(viper.GetString(refmapConfigKey)),
				Report:     m.Path(viper.GetString(reportConfigKey)),
				Threads:    viper.GetInt(parallelConfigKey),
				DryRun:     applyDryRunFlag,
				Diff:       applyDiffFlag,
			})

			return err
		},
	}

	configureApplyFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func configureApplyFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&applyParallelFlag, parallelFlagName, "p", viper.GetInt(parallelConfigKey), "number of parallel workers for class rewriting")
	bindFlagToConfig(cmd.Flags().Lookup(parallelFlagName), parallelConfigKey)

	cmd.Flags().StringVar(&applyReportFlag, reportFlagName, viper.GetString(reportConfigKey), "write the injection report to this file")
	bindFlagToConfig(cmd.Flags().Lookup(reportFlagName), reportConfigKey)

	cmd.Flags().BoolVar(&applyDryRunFlag, dryRunFlagName, false, "resolve and weave but write nothing")
	cmd.Flags().BoolVar(&applyDiffFlag, diffFlagName, false, "show a bytecode diff for every rewritten class")
}
