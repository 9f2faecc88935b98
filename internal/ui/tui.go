package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer shows live indexing progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. Fails if output is not a TTY.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newIndexModel()
	if cfg.NoColor || os.Getenv("NO_COLOR") != "" {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			// Unresponsive TUI must not hang shutdown.
		}
	}
	return nil
}

type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats

// indexModel is the bubbletea model for an indexing pass.
type indexModel struct {
	styles      Styles
	spinner     spinner.Model
	progressBar progress.Model

	width       int
	stage       Stage
	current     int
	total       int
	currentFile string
	errorsSeen  int
	warnsSeen   int
	lastErrors  []string

	quitting bool
	complete bool
	stats    CompletionStats
}

func newIndexModel() *indexModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmber))

	p := progress.New(
		progress.WithSolidFill(ColorAmber),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexModel{
		styles:      DefaultStyles(),
		spinner:     s,
		progressBar: p,
		width:       80,
	}
}

// Init implements tea.Model.
func (m *indexModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *indexModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg:
		m.stage = msg.Stage
		m.current = msg.Current
		m.total = msg.Total
		m.currentFile = msg.CurrentFile
		return m, nil

	case errorMsg:
		if msg.IsWarn {
			m.warnsSeen++
		} else {
			m.errorsSeen++
		}
		line := fmt.Sprintf("%s: %v", msg.File, msg.Err)
		m.lastErrors = append(m.lastErrors, line)
		if len(m.lastErrors) > 3 {
			m.lastErrors = m.lastErrors[len(m.lastErrors)-3:]
		}
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	var b strings.Builder

	b.WriteString(m.styles.Header.Render("Quarry Indexer"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.styles.Stage.Render(m.stage.String())))
	if m.total > 0 {
		b.WriteString(m.styles.Label.Render(fmt.Sprintf("  %d/%d", m.current, m.total)))
		b.WriteString("\n")
		b.WriteString(m.progressBar.ViewAs(float64(m.current) / float64(m.total)))
	}
	b.WriteString("\n")

	if m.currentFile != "" {
		b.WriteString(m.styles.Dim.Render(truncatePath(m.currentFile, m.width-4)))
		b.WriteString("\n")
	}

	if m.errorsSeen > 0 || m.warnsSeen > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Warning.Render(
			fmt.Sprintf("%d errors, %d warnings", m.errorsSeen, m.warnsSeen)))
		b.WriteString("\n")
		for _, line := range m.lastErrors {
			b.WriteString(m.styles.Error.Render(truncatePath(line, m.width-4)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.styles.Dim.Render("press q to cancel"))
	b.WriteString("\n")
	return b.String()
}

func (m *indexModel) renderComplete() string {
	summary := fmt.Sprintf("Indexed %d documents (%d chunks) in %s",
		m.stats.Documents, m.stats.Chunks, m.stats.Duration.Round(100*time.Millisecond))
	if m.stats.Skipped > 0 {
		summary += fmt.Sprintf(", %d unchanged", m.stats.Skipped)
	}
	if m.stats.Failed > 0 {
		summary += fmt.Sprintf(", %d failed", m.stats.Failed)
	}
	return m.styles.Success.Render(summary) + "\n"
}

// truncatePath shortens a path to fit the given width, keeping the tail.
func truncatePath(s string, width int) string {
	if width < 8 {
		width = 8
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return "…" + string(runes[len(runes)-width+1:])
}
