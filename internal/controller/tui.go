package controller

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	m "weft.dev/pkg/weft/internal/model"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	wovenStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	missedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	summaryStyle  = lipgloss.NewStyle().Bold(true)
	diffAddStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	diffDropStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a new TUI writing to the given stream.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the interactive display in the background.
func (p *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := StartConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	model := newWeaveModel(cfg)

	p.mu.Lock()
	p.program = tea.NewProgram(model, tea.WithOutput(p.output))
	p.done = make(chan struct{})
	p.mu.Unlock()

	go func() {
		defer close(p.done)

		if _, err := p.program.Run(); err != nil {
			fmt.Fprintf(p.output, "display error: %v\n", err)
		}
	}()

	return nil
}

// Close shuts the display down without waiting for the user.
func (p *TUI) Close(ctx context.Context) {
	p.mu.Lock()
	program, done := p.program, p.done
	p.mu.Unlock()

	if program == nil {
		return
	}

	program.Quit()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Wait blocks until the user closes the display.
func (p *TUI) Wait(ctx context.Context) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// DisplayConcurrencyInfo shows concurrency settings.
func (p *TUI) DisplayConcurrencyInfo(ctx context.Context, threads int) {
	p.send(ctx, concurrencyMsg{threads: threads})
}

// DisplayClassResult records one processed class.
func (p *TUI) DisplayClassResult(ctx context.Context, result m.ClassResult) {
	p.send(ctx, classResultMsg{result: result})
}

// DisplayDiff records the bytecode diff for a rewritten class.
func (p *TUI) DisplayDiff(ctx context.Context, class string, diff string) {
	p.send(ctx, diffMsg{class: class, diff: diff})
}

// DisplayReport shows the final injection summary.
func (p *TUI) DisplayReport(ctx context.Context, report *m.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.send(ctx, reportMsg{report: report})

	return nil
}

// DisplayPoints shows the resolved injection points.
func (p *TUI) DisplayPoints(ctx context.Context, points []m.PointReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.send(ctx, pointsMsg{points: points})

	return nil
}

func (p *TUI) send(ctx context.Context, msg tea.Msg) {
	if err := ctx.Err(); err != nil {
		return
	}

	p.mu.Lock()
	program := p.program
	p.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

type concurrencyMsg struct{ threads int }

type classResultMsg struct{ result m.ClassResult }

type diffMsg struct {
	class string
	diff  string
}

type reportMsg struct{ report *m.Report }

type pointsMsg struct{ points []m.PointReport }

// weaveModel is the Bubble Tea model behind the interactive display.
type weaveModel struct {
	mode       StartMode
	classTotal int

	spin     spinner.Model
	bar      progress.Model
	threads  int
	results  []m.ClassResult
	diffs    []diffMsg
	report   *m.Report
	points   []m.PointReport
	height   int
	offset   int
	quitting bool
}

func newWeaveModel(cfg StartConfig) weaveModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return weaveModel{
		mode:       cfg.mode,
		classTotal: cfg.classTotal,
		spin:       spin,
		bar:        progress.New(progress.WithDefaultGradient()),
	}
}

func (wm weaveModel) Init() tea.Cmd {
	return wm.spin.Tick
}

func (wm weaveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		wm.height = msg.Height
		wm.bar.Width = msg.Width - 8

		return wm, nil

	case tea.KeyMsg:
		return wm.handleKeyPress(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		wm.spin, cmd = wm.spin.Update(msg)

		return wm, cmd

	case concurrencyMsg:
		wm.threads = msg.threads
		return wm, nil

	case classResultMsg:
		wm.results = append(wm.results, msg.result)
		return wm, nil

	case diffMsg:
		wm.diffs = append(wm.diffs, msg)
		return wm, nil

	case reportMsg:
		wm.report = msg.report
		return wm, nil

	case pointsMsg:
		wm.points = msg.points
		return wm, nil
	}

	return wm, nil
}

//nolint:exhaustive // only navigation keys are handled
func (wm weaveModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		wm.quitting = true
		return wm, tea.Quit
	default:
	}

	switch msg.String() {
	case "q":
		wm.quitting = true
		return wm, tea.Quit

	case "down", "j":
		wm.offset++
		if max := wm.maxOffset(); wm.offset > max {
			wm.offset = max
		}

	case "up", "k":
		wm.offset--
		if wm.offset < 0 {
			wm.offset = 0
		}

	case "g", "home":
		wm.offset = 0

	case "G", "end":
		wm.offset = wm.maxOffset()
	}

	return wm, nil
}

func (wm weaveModel) itemsPerPage() int {
	if wm.height == 0 {
		return 10
	}

	// header, progress, summary and footer take a fixed band
	available := wm.height - 8
	if available < 1 {
		return 1
	}

	return available
}

func (wm weaveModel) maxOffset() int {
	max := len(wm.contentLines()) - wm.itemsPerPage()
	if max < 0 {
		return 0
	}

	return max
}

func (wm weaveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Weft - Bytecode Weaving"))
	b.WriteString("\n\n")

	if wm.mode == ModeApply && wm.classTotal > 0 {
		ratio := float64(len(wm.results)) / float64(wm.classTotal)
		fmt.Fprintf(&b, "  %s\n\n", wm.bar.ViewAs(ratio))
	}

	if wm.report == nil && wm.points == nil {
		fmt.Fprintf(&b, "  %s weaving", wm.spin.View())

		if wm.threads > 0 {
			fmt.Fprintf(&b, " with %d worker(s)", wm.threads)
		}

		b.WriteString("\n\n")
	}

	lines := wm.contentLines()
	perPage := wm.itemsPerPage()

	start := wm.offset
	if start > len(lines) {
		start = len(lines)
	}

	end := start + perPage
	if end > len(lines) {
		end = len(lines)
	}

	for _, line := range lines[start:end] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	wm.writeSummary(&b)
	b.WriteString(helpStyle.Render("  ↑/k: up | ↓/j: down | g: top | G: bottom | q: quit"))
	b.WriteString("\n")

	return b.String()
}

func (wm weaveModel) contentLines() []string {
	if wm.points != nil {
		return pointLines(wm.points)
	}

	var lines []string

	for _, result := range wm.results {
		lines = append(lines, classLine(result))
	}

	for _, d := range wm.diffs {
		lines = append(lines, fmt.Sprintf("  %s", d.class))
		lines = append(lines, diffLines(d.diff)...)
	}

	return lines
}

func (wm weaveModel) writeSummary(b *strings.Builder) {
	if wm.report != nil {
		b.WriteString("\n")
		b.WriteString(summaryStyle.Render(fmt.Sprintf(
			"  Classes: %d | Injections: %d | Failures: %d",
			len(wm.report.Classes), wm.report.Injections(), wm.report.Failures())))
		b.WriteString("\n")

		return
	}

	if wm.points != nil {
		b.WriteString("\n")
		b.WriteString(summaryStyle.Render(fmt.Sprintf("  Points: %d", len(wm.points))))
		b.WriteString("\n")
	}
}

func classLine(result m.ClassResult) string {
	injected, failed := 0, 0

	for _, rep := range result.Reports {
		switch rep.Status {
		case m.Injected:
			injected += rep.Count
		case m.Failed:
			failed++
		case m.Missed:
		}
	}

	line := fmt.Sprintf("  %s: %d injection(s)", result.Class, injected)

	switch {
	case failed > 0:
		return failedStyle.Render(line + fmt.Sprintf(", %d failure(s)", failed))
	case result.Modified:
		return wovenStyle.Render(line)
	default:
		return missedStyle.Render(line)
	}
}

func pointLines(points []m.PointReport) []string {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("  %s %s [%s] %s %s @%d",
			p.Class, p.Method, p.Mixin, p.At, p.Opcode, p.Position))
	}

	return lines
}

func diffLines(diff string) []string {
	var lines []string

	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			lines = append(lines, diffAddStyle.Render("    "+line))
		case strings.HasPrefix(line, "-"):
			lines = append(lines, diffDropStyle.Render("    "+line))
		default:
			lines = append(lines, "    "+line)
		}
	}

	return lines
}
