package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"weft.dev/pkg/weft/internal/domain"
	m "weft.dev/pkg/weft/internal/model"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "View a previously generated injection report",
		Long:  "View a previously generated injection report written by apply --report.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			reportPath := viewReportFlag
			if reportPath == "" {
				reportPath = viper.GetString(reportConfigKey)
			}

			return workflow.View(cmd.Context(), domain.ViewArgs{Report: m.Path(reportPath)})
		},
	}

	cmd.Flags().StringVar(&viewReportFlag, reportFlagName, "", "report file to display")

	return cmd
}

var viewReportFlag string

func init() {
	rootCmd.AddCommand(viewCmd)
}
