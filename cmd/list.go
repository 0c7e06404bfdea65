package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weft.dev/pkg/weft/internal/domain"
	m "weft.dev/pkg/weft/internal/model"
)

// listCmd represents the list command.
var listCmd = newListCmd()

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [class-roots...]",
		Short: "List resolved injection points",
		Long:  listLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := workflow.List(cmd.Context(), domain.ListArgs{
				ClassRoots: parsePaths(args),
				Config:     m.Path(viper.GetString(mixinsConfigKey)),
				Refmap:     m.Path(viper.GetString(refmapConfigKey)),
			})

			return err
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(listCmd)
}
