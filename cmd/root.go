// Package cmd provides the root command and CLI setup for weft.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"weft.dev/pkg/weft/internal/adapter"
	"weft.dev/pkg/weft/internal/controller"
	"weft.dev/pkg/weft/internal/domain"
	m "weft.dev/pkg/weft/internal/model"
)

var classFSAdapter adapter.ClassFSAdapter
var classStore adapter.ClassStore
var reportStore adapter.ReportStore
var workflow domain.Workflow
var ui controller.UI

// outputDirFlag is a root-level flag naming where rewritten classes go.
var outputDirFlag string

// mixinsFlag names the mixin configuration file.
var mixinsFlag string

// refmapFlag names an optional reference map file.
var refmapFlag string

// verboseFlag raises the log level to debug.
var verboseFlag bool

// logFileFlag overrides the log file location.
var logFileFlag string

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	classFSAdapter = adapter.NewLocalClassFSAdapter()
	classStore = adapter.NewLocalClassStore(classFSAdapter)
	reportStore = adapter.NewReportStore()
	workflow = domain.NewWorkflow(classStore, reportStore, ui)
}

const classPathsHelp = `Class roots can be directories of .class files or .jar/.zip archives:
  - build/classes          scan a directory tree
  - libs/app.jar           read classes out of an archive
  - build/classes app.jar  mix both in one run`

const rootLongDescription = `Weft applies mixin configurations to JVM class files: it locates injection
points inside target methods and weaves handler calls, call redirections and
value transformations into the bytecode without touching the source.

` + classPathsHelp

const applyLongDescription = `Apply the mixin configuration to every class under the given roots and
write the rewritten classes to the output directory.

` + classPathsHelp

const listLongDescription = `Resolve every injection point of the mixin configuration against the given
class roots without rewriting anything.

` + classPathsHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = baseRootCmd()

func baseRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weft",
		Short: "JVM bytecode mixin weaver",
		Long:  rootLongDescription,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag || viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().
		StringVarP(
			&outputDirFlag, outputFlagName, "o",
			viper.GetString(outputFlagName),
			"output directory for rewritten classes",
		)
	bindFlagToConfig(cmd.PersistentFlags().Lookup(outputFlagName), outputFlagName)

	cmd.PersistentFlags().StringVarP(&mixinsFlag, mixinsFlagName, "m", viper.GetString(mixinsConfigKey), "mixin configuration file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(mixinsFlagName), mixinsConfigKey)

	cmd.PersistentFlags().StringVarP(&refmapFlag, refmapFlagName, "r", viper.GetString(refmapConfigKey), "reference map file for renamed targets")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(refmapFlagName), refmapConfigKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "log at debug level")
	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file location")
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func parsePaths(args []string) []m.Path {
	paths := make([]m.Path, 0, len(args))
	for _, arg := range args {
		paths = append(paths, m.Path(arg))
	}

	return paths
}
