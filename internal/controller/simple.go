package controller

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	m "weft.dev/pkg/weft/internal/model"
)

// SimpleUI implements UI using cobra Command's output stream.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
	// SimpleUI doesn't block - it just prints and continues
}

// DisplayConcurrencyInfo shows concurrency settings.
func (s *SimpleUI) DisplayConcurrencyInfo(ctx context.Context, threads int) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Weaving with %d worker(s)\n", threads)
}

// DisplayClassResult prints a one-line summary for a processed class.
func (s *SimpleUI) DisplayClassResult(ctx context.Context, result m.ClassResult) {
	if err := ctx.Err(); err != nil {
		return
	}

	if !result.Modified && len(result.Reports) == 0 {
		return
	}

	s.printf("%s -> %s\n", result.Class, classStatusLabel(result))

	for _, rep := range result.Reports {
		if rep.Status == m.Failed && rep.Err != nil {
			s.printf("  %s/%s: %v\n", rep.Mixin, rep.Kind, rep.Err)
		}
	}
}

// DisplayDiff prints the bytecode diff for a rewritten class.
func (s *SimpleUI) DisplayDiff(ctx context.Context, class string, diff string) {
	if err := ctx.Err(); err != nil {
		return
	}

	if diff == "" {
		return
	}

	s.printf("Class: %s\n%s\n", class, diff)
}

// DisplayReport prints the final injection summary table.
func (s *SimpleUI) DisplayReport(ctx context.Context, report *m.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderReportTable(report))

	return nil
}

// DisplayPoints prints the resolved injection points table.
func (s *SimpleUI) DisplayPoints(ctx context.Context, points []m.PointReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderPointsTable(points))

	return nil
}

func renderReportTable(report *m.Report) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Class", "Mixin", "Kind", "Count", "Status"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT,
	})

	classes := make([]m.ClassResult, len(report.Classes))
	copy(classes, report.Classes)
	sort.Slice(classes, func(i, j int) bool {
		return classes[i].Class < classes[j].Class
	})

	for _, cls := range classes {
		for _, rep := range cls.Reports {
			table.Append([]string{
				cls.Class,
				rep.Mixin,
				string(rep.Kind),
				fmt.Sprintf("%d", rep.Count),
				injectionStatusLabel(rep.Status),
			})
		}
	}

	table.SetFooter([]string{
		fmt.Sprintf("Classes %d", len(classes)),
		"", "",
		fmt.Sprintf("%d", report.Injections()),
		fmt.Sprintf("Failed %d", report.Failures()),
	})

	table.Render()

	return tableBuffer.String()
}

func renderPointsTable(points []m.PointReport) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Class", "Method", "Mixin", "At", "Opcode", "Position"})
	table.SetBorder(false)
	table.SetCenterSeparator("")

	for _, p := range points {
		table.Append([]string{
			p.Class,
			p.Method,
			p.Mixin,
			p.At,
			p.Opcode,
			fmt.Sprintf("%d", p.Position),
		})
	}

	table.SetFooter([]string{
		"", "", "", "",
		"Total",
		fmt.Sprintf("%d", len(points)),
	})

	table.Render()

	return tableBuffer.String()
}

func classStatusLabel(result m.ClassResult) string {
	if result.Modified {
		return "woven"
	}

	for _, rep := range result.Reports {
		if rep.Status == m.Failed {
			return "failed"
		}
	}

	return "unchanged"
}

func injectionStatusLabel(status m.InjectionStatus) string {
	switch status {
	case m.Injected:
		return "injected"
	case m.Missed:
		return "missed"
	case m.Failed:
		return "failed"
	default:
		return unknownStatusLabel
	}
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

const unknownStatusLabel = "unknown"
