// Package controller provides output adapters for displaying injection results.
package controller

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	m "weft.dev/pkg/weft/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeApply StartMode = iota
	ModeList
)

// StartOption is a functional option for the Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode       StartMode
	classTotal int
}

// WithApplyMode sets the UI to injection mode.
func WithApplyMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeApply
	}
}

// WithListMode sets the UI to point listing mode.
func WithListMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeList
	}
}

// WithClassTotal tells the UI how many classes the run will process, for
// progress display.
func WithClassTotal(n int) StartOption {
	return func(c *StartConfig) {
		c.classTotal = n
	}
}

// NewUI picks the interactive display when running on a terminal, the plain
// one otherwise.
func NewUI(cmd *cobra.Command, interactive bool) UI {
	if interactive {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY reports whether the file is attached to a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

// UI defines the interface for displaying injection progress and results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	Wait(ctx context.Context) // Wait for UI to finish (user closes it)
	DisplayConcurrencyInfo(ctx context.Context, threads int)
	DisplayClassResult(ctx context.Context, result m.ClassResult)
	DisplayDiff(ctx context.Context, class string, diff string)
	DisplayReport(ctx context.Context, report *m.Report) error
	DisplayPoints(ctx context.Context, points []m.PointReport) error
}
