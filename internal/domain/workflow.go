package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"weft.dev/pkg/weft/internal/adapter"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/controller"
	"weft.dev/pkg/weft/internal/refmap"
	"weft.dev/pkg/weft/internal/selector"

	m "weft.dev/pkg/weft/internal/model"
)

// ApplyArgs holds the parameters of an apply run.
type ApplyArgs struct {
	ClassRoots []m.Path
	Output     m.Path
	Config     m.Path
	Refmap     m.Path
	Report     m.Path
	Threads    int
	DryRun     bool
	Diff       bool
}

// ListArgs holds the parameters of a point listing run.
type ListArgs struct {
	ClassRoots []m.Path
	Config     m.Path
	Refmap     m.Path
}

// ViewArgs holds the parameters for viewing a saved report.
type ViewArgs struct {
	Report m.Path
}

// Workflow is the application entry point behind the CLI commands.
type Workflow interface {
	// Apply weaves the configuration into every class under the given
	// roots and returns the aggregated report.
	Apply(ctx context.Context, args ApplyArgs) (*m.Report, error)

	// List resolves every injection point without rewriting anything.
	List(ctx context.Context, args ListArgs) ([]m.PointReport, error)

	// View displays a previously saved report.
	View(ctx context.Context, args ViewArgs) error
}

type workflow struct {
	adapter.ClassStore
	adapter.ReportStore
	controller.UI

	newOrchestrator func(selector.Remapper, ClassResolver) Orchestrator
}

// NewWorkflow creates a Workflow instance with the provided dependencies.
func NewWorkflow(classStore adapter.ClassStore, reportStore adapter.ReportStore, ui controller.UI) Workflow {
	return &workflow{
		ClassStore:      classStore,
		ReportStore:     reportStore,
		UI:              ui,
		newOrchestrator: NewOrchestrator,
	}
}

func (w *workflow) Apply(ctx context.Context, args ApplyArgs) (*m.Report, error) {
	cfg, remapper, err := w.loadRun(args.Config, args.Refmap)
	if err != nil {
		return nil, err
	}

	entries, err := w.LoadClasses(args.ClassRoots)
	if err != nil {
		return nil, fmt.Errorf("load classes: %w", err)
	}

	if err := w.Start(ctx, controller.WithApplyMode(), controller.WithClassTotal(len(entries))); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return nil, err
	}
	defer w.Close(ctx)

	threads := args.Threads
	if threads < 1 {
		threads = 1
	}

	w.DisplayConcurrencyInfo(ctx, threads)

	outcomes := make([]*ClassOutcome, len(entries))
	orc := w.newOrchestrator(remapper, resolverFor(entries))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(threads)

	for i, entry := range entries {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			out, err := orc.ApplyClass(entry, cfg)
			if err != nil {
				return err
			}

			if args.Diff && out.Data != nil {
				diff, err := classDiff(entry, out.Data)
				if err != nil {
					return err
				}

				out.Result.Diff = diff
			}

			if out.Data != nil && !args.DryRun {
				written, err := w.SaveClass(args.Output, out.Result.Class, out.Data)
				if err != nil {
					return fmt.Errorf("save %s: %w", out.Result.Class, err)
				}

				out.Result.Output = written
			}

			outcomes[i] = out
			w.DisplayClassResult(groupCtx, out.Result)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	report := &m.Report{}
	groupCounts := map[string]int{}

	for _, out := range outcomes {
		report.Classes = append(report.Classes, out.Result)

		for name, count := range out.GroupCounts {
			groupCounts[name] += count
		}

		if args.Diff && out.Result.Diff != "" {
			w.DisplayDiff(ctx, out.Result.Class, out.Result.Diff)
		}
	}

	if err := CheckGroups(cfg, groupCounts); err != nil {
		return report, err
	}

	if args.Report != "" {
		if err := w.SaveReport(args.Report, report); err != nil {
			return report, fmt.Errorf("save report: %w", err)
		}
	}

	if err := w.DisplayReport(ctx, report); err != nil {
		slog.Error("Failed to display report", "error", err)
		return report, err
	}

	w.Wait(ctx)

	return report, nil
}

func (w *workflow) List(ctx context.Context, args ListArgs) ([]m.PointReport, error) {
	cfg, remapper, err := w.loadRun(args.Config, args.Refmap)
	if err != nil {
		return nil, err
	}

	entries, err := w.LoadClasses(args.ClassRoots)
	if err != nil {
		return nil, fmt.Errorf("load classes: %w", err)
	}

	if err := w.Start(ctx, controller.WithListMode()); err != nil {
		slog.Error("Failed to start workflow UI", "error", err)
		return nil, err
	}
	defer w.Close(ctx)

	orc := w.newOrchestrator(remapper, resolverFor(entries))

	var points []m.PointReport

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := orc.ResolvePoints(entry, cfg)
		if err != nil {
			return nil, err
		}

		points = append(points, found...)
	}

	if err := w.DisplayPoints(ctx, points); err != nil {
		slog.Error("Failed to display points", "error", err)
		return points, err
	}

	w.Wait(ctx)

	return points, nil
}

func (w *workflow) View(ctx context.Context, args ViewArgs) error {
	report, err := w.LoadReport(args.Report)
	if err != nil {
		return fmt.Errorf("load report: %w", err)
	}

	if err := w.Start(ctx, controller.WithApplyMode()); err != nil {
		return err
	}
	defer w.Close(ctx)

	if err := w.DisplayReport(ctx, report); err != nil {
		return err
	}

	w.Wait(ctx)

	return nil
}

func (w *workflow) loadRun(configPath, refmapPath m.Path) (*m.Config, selector.Remapper, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	remapper := selector.Remapper(refmap.Empty())

	if refmapPath != "" {
		loaded, err := refmap.Load(string(refmapPath))
		if err != nil {
			return nil, nil, fmt.Errorf("load refmap: %w", err)
		}

		remapper = loaded
	}

	return cfg, remapper, nil
}

// resolverFor looks up helper classes among the classes loaded for this run.
func resolverFor(entries []adapter.ClassEntry) ClassResolver {
	index := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		index[entry.Name] = entry.Data
	}

	return func(name string) ([]byte, bool) {
		data, ok := index[name]
		return data, ok
	}
}

// classDiff renders a unified diff of the class disassembly before and after
// rewriting.
func classDiff(entry adapter.ClassEntry, rewritten []byte) (string, error) {
	before, err := disassembleClass(entry.Data)
	if err != nil {
		return "", fmt.Errorf("disassemble %s: %w", entry.Name, err)
	}

	after, err := disassembleClass(rewritten)
	if err != nil {
		return "", fmt.Errorf("disassemble rewritten %s: %w", entry.Name, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: entry.Name,
		ToFile:   entry.Name + " (woven)",
		Context:  3,
	}

	return difflib.GetUnifiedDiffString(diff)
}

func disassembleClass(data []byte) (string, error) {
	cls, err := classfile.Parse(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	for _, mt := range cls.Methods {
		fmt.Fprintf(&b, "%s%s:\n", mt.Name, mt.Desc)

		if mt.Code != nil {
			b.WriteString(mt.Code.Insns.Disassemble())
		}

		b.WriteString("\n")
	}

	return b.String(), nil
}
