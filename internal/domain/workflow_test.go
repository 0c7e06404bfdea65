package domain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weft.dev/pkg/weft/internal/adapter"
	"weft.dev/pkg/weft/internal/controller"

	m "weft.dev/pkg/weft/internal/model"
)

type fakeClassStore struct {
	entries []adapter.ClassEntry
	saved   map[string][]byte
}

func (s *fakeClassStore) LoadClasses(_ []m.Path) ([]adapter.ClassEntry, error) {
	return s.entries, nil
}

func (s *fakeClassStore) SaveClass(_ m.Path, name string, data []byte) (m.Path, error) {
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}

	s.saved[name] = data

	return m.Path(name + ".class"), nil
}

type fakeReportStore struct {
	path   m.Path
	report *m.Report
}

func (s *fakeReportStore) SaveReport(path m.Path, report *m.Report) error {
	s.path = path
	s.report = report

	return nil
}

func (s *fakeReportStore) LoadReport(m.Path) (*m.Report, error) { return s.report, nil }

type fakeUI struct {
	results []m.ClassResult
	diffs   map[string]string
	report  *m.Report
	points  []m.PointReport
	threads int
}

func (u *fakeUI) Start(context.Context, ...controller.StartOption) error { return nil }
func (u *fakeUI) Close(context.Context)                                  {}
func (u *fakeUI) Wait(context.Context)                                   {}

func (u *fakeUI) DisplayConcurrencyInfo(_ context.Context, threads int) { u.threads = threads }

func (u *fakeUI) DisplayClassResult(_ context.Context, result m.ClassResult) {
	u.results = append(u.results, result)
}

func (u *fakeUI) DisplayDiff(_ context.Context, class string, diff string) {
	if u.diffs == nil {
		u.diffs = map[string]string{}
	}

	u.diffs[class] = diff
}

func (u *fakeUI) DisplayReport(_ context.Context, report *m.Report) error {
	u.report = report
	return nil
}

func (u *fakeUI) DisplayPoints(_ context.Context, points []m.PointReport) error {
	u.points = points
	return nil
}

func writeRunConfig(t *testing.T) m.Path {
	t.Helper()

	path := filepath.Join(t.TempDir(), "weft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	return m.Path(path)
}

func TestWorkflowApply(t *testing.T) {
	store := &fakeClassStore{entries: []adapter.ClassEntry{widgetEntry(t)}}
	reports := &fakeReportStore{}
	ui := &fakeUI{}

	w := NewWorkflow(store, reports, ui)

	report, err := w.Apply(context.Background(), ApplyArgs{
		ClassRoots: []m.Path{"classes"},
		Output:     "out",
		Config:     writeRunConfig(t),
		Report:     "report.yaml",
		Threads:    2,
	})
	require.NoError(t, err)

	require.Len(t, report.Classes, 1)
	assert.True(t, report.Classes[0].Modified)
	assert.Equal(t, 2, report.Injections())
	assert.Zero(t, report.Failures())

	// The rewritten class went to the store and the report was persisted.
	assert.Contains(t, store.saved, widgetClass)
	assert.Equal(t, m.Path("report.yaml"), reports.path)
	require.NotNil(t, reports.report)

	assert.Equal(t, 2, ui.threads)
	require.Len(t, ui.results, 1)
	require.NotNil(t, ui.report)
}

func TestWorkflowApplyDryRun(t *testing.T) {
	store := &fakeClassStore{entries: []adapter.ClassEntry{widgetEntry(t)}}
	ui := &fakeUI{}

	w := NewWorkflow(store, &fakeReportStore{}, ui)

	report, err := w.Apply(context.Background(), ApplyArgs{
		ClassRoots: []m.Path{"classes"},
		Config:     writeRunConfig(t),
		DryRun:     true,
	})
	require.NoError(t, err)

	assert.True(t, report.Classes[0].Modified)
	assert.Empty(t, store.saved)
	assert.Empty(t, report.Classes[0].Output)
}

func TestWorkflowApplyDiff(t *testing.T) {
	store := &fakeClassStore{entries: []adapter.ClassEntry{widgetEntry(t)}}
	ui := &fakeUI{}

	w := NewWorkflow(store, &fakeReportStore{}, ui)

	report, err := w.Apply(context.Background(), ApplyArgs{
		ClassRoots: []m.Path{"classes"},
		Output:     "out",
		Config:     writeRunConfig(t),
		Diff:       true,
	})
	require.NoError(t, err)

	diff := report.Classes[0].Diff
	require.NotEmpty(t, diff)
	assert.Contains(t, diff, "+")
	assert.Contains(t, ui.diffs, widgetClass)
}

func TestWorkflowApplyUnmetGroupFails(t *testing.T) {
	config := sampleConfig + `
  - name: ghost-hooks
    targets: [com/example/Missing]
    injectors:
      - kind: callback
        methods: ["gone()V"]
        handler: "onGone(Lweft/runtime/CallbackInfo;)V"
        handlerStatic: true
        at:
          - name: HEAD
        group:
          name: required-hooks
          min: 1
`

	path := filepath.Join(t.TempDir(), "weft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	store := &fakeClassStore{entries: []adapter.ClassEntry{widgetEntry(t)}}
	w := NewWorkflow(store, &fakeReportStore{}, &fakeUI{})

	_, err := w.Apply(context.Background(), ApplyArgs{
		ClassRoots: []m.Path{"classes"},
		Output:     "out",
		Config:     m.Path(path),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGroupCount)
}

func TestWorkflowList(t *testing.T) {
	store := &fakeClassStore{entries: []adapter.ClassEntry{widgetEntry(t)}}
	ui := &fakeUI{}

	w := NewWorkflow(store, &fakeReportStore{}, ui)

	points, err := w.List(context.Background(), ListArgs{
		ClassRoots: []m.Path{"classes"},
		Config:     writeRunConfig(t),
	})
	require.NoError(t, err)

	// One HEAD match plus one INVOKE match inside the slice.
	require.Len(t, points, 2)
	assert.Equal(t, points, ui.points)
}

func TestWorkflowView(t *testing.T) {
	saved := &m.Report{Classes: []m.ClassResult{{Class: widgetClass, Modified: true}}}
	ui := &fakeUI{}

	w := NewWorkflow(&fakeClassStore{}, &fakeReportStore{report: saved}, ui)

	require.NoError(t, w.View(context.Background(), ViewArgs{Report: "report.yaml"}))
	assert.Equal(t, saved, ui.report)
}

func TestWorkflowApplyRejectsMissingConfig(t *testing.T) {
	w := NewWorkflow(&fakeClassStore{}, &fakeReportStore{}, &fakeUI{})

	_, err := w.Apply(context.Background(), ApplyArgs{
		Config: m.Path(filepath.Join(t.TempDir(), "absent.yaml")),
	})
	require.Error(t, err)
}
