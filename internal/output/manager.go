package output

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/tanq16/splitfetch/internal/bridge"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

type Transfer struct {
	ID          int
	Label       string
	Status      Status
	Message     string
	Progress    bridge.Progress
	StartTime   time.Time
	LastUpdated time.Time
	Err         error
}

func (t *Transfer) done() bool {
	return t.Status == StatusSuccess || t.Status == StatusError || t.Status == StatusCancelled
}

type ErrorReport struct {
	Label string
	Error error
	Time  time.Time
}

// Manager renders the live state of every registered transfer. On a terminal
// it redraws in place; elsewhere it only prints the final frame and summary.
type Manager struct {
	out         io.Writer
	interactive bool
	bar         progress.Model

	mutex     sync.RWMutex
	transfers map[int]*Transfer
	count     int
	numLines  int
	errors    []ErrorReport
	overall   *bridge.Progress

	started     time.Time
	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
}

func NewManager(out io.Writer) *Manager {
	return &Manager{
		out:         out,
		interactive: isTerminal(out),
		bar:         newBar(),
		transfers:   make(map[int]*Transfer),
		started:     time.Now(),
		displayTick: 200 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

func (m *Manager) Register(label string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	now := time.Now()
	m.transfers[m.count] = &Transfer{
		ID:          m.count,
		Label:       label,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}
	return m.count
}

func (m *Manager) Update(id int, p bridge.Progress) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t, ok := m.transfers[id]; ok && !t.done() {
		t.Status = StatusActive
		t.Progress = p
		t.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id int, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t, ok := m.transfers[id]; ok {
		if message == "" {
			message = "Completed " + t.Label
		}
		t.Message = message
		t.Status = StatusSuccess
		t.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t, ok := m.transfers[id]; ok {
		t.Status = StatusError
		t.Err = err
		t.Message = "Failed " + t.Label
		t.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{Label: t.Label, Error: err, Time: t.LastUpdated})
	}
}

func (m *Manager) Cancel(id int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if t, ok := m.transfers[id]; ok && !t.done() {
		t.Status = StatusCancelled
		t.Message = "Cancelled " + t.Label
		t.LastUpdated = time.Now()
	}
}

// SetOverall shows p as a batch-wide bar above the transfers.
func (m *Manager) SetOverall(p bridge.Progress) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.overall = &p
}

func (m *Manager) Get(id int) (Transfer, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	t, ok := m.transfers[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

func statusIndicator(s Status) string {
	switch s {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(s Status, msg string) string {
	switch s {
	case StatusSuccess:
		return successStyle.Render(msg)
	case StatusError:
		return errorStyle.Render(msg)
	case StatusCancelled:
		return warningStyle.Render(msg)
	default:
		return pendingStyle.Render(msg)
	}
}

// frame builds the display lines: running transfers first with their bars,
// then waiting ones, then finished ones trimmed to fit within limit.
func (m *Manager) frame(limit int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	all := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	var active, pending, completed []*Transfer
	for _, t := range all {
		switch {
		case t.done():
			completed = append(completed, t)
		case t.Status == StatusPending:
			pending = append(pending, t)
		default:
			active = append(active, t)
		}
	}

	var lines []string
	now := time.Now()
	if m.overall != nil {
		lines = append(lines, fmt.Sprintf("%s%s %s", indent(2), headerStyle.Render("Total"), progressLine(m.bar, *m.overall, now.Sub(m.started))))
	}
	for _, t := range active {
		elapsed := now.Sub(t.StartTime)
		lines = append(lines,
			fmt.Sprintf("%s%s %s %s", indent(2), statusIndicator(t.Status), debugStyle.Render(elapsed.Round(time.Second).String()), styleMessage(t.Status, t.Label)),
			indent(6)+streamStyle.Render(progressLine(m.bar, t.Progress, elapsed)),
		)
	}
	for _, t := range pending {
		lines = append(lines, fmt.Sprintf("%s%s %s", indent(2), statusIndicator(t.Status), pendingStyle.Render("Waiting "+t.Label)))
	}

	room := limit - len(lines)
	if len(completed) > room {
		hidden := len(completed) - max(room-1, 0)
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d transfers finished ...", indent(2), hidden)))
		completed = completed[hidden:]
	}
	for _, t := range completed {
		took := t.LastUpdated.Sub(t.StartTime).Round(time.Second)
		line := fmt.Sprintf("%s%s %s %s", indent(2), statusIndicator(t.Status), debugStyle.Render(took.String()), styleMessage(t.Status, t.Message))
		if t.Status == StatusSuccess && t.Progress.Transferred > 0 {
			line += debugStyle.Render(fmt.Sprintf(" (%s)", FormatBytes(uint64(t.Progress.Transferred))))
		}
		lines = append(lines, line)
	}
	return lines
}

func (m *Manager) redraw() {
	lines := m.frame(terminalHeight(m.out) - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.redraw()
			case <-m.doneCh:
				return
			}
		}
	}()
}

// StopDisplay draws the final frame and the summary.
func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	m.redraw()
	m.ShowSummary()
}

// Summary counts finished transfers by outcome.
func (m *Manager) Summary() (succeeded, failed, total int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, t := range m.transfers {
		switch t.Status {
		case StatusSuccess:
			succeeded++
		case StatusError:
			failed++
		}
	}
	return succeeded, failed, len(m.transfers)
}

func (m *Manager) ShowSummary() {
	succeeded, failed, total := m.Summary()
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent(2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", succeeded, total)))
	if failed > 0 {
		fmt.Fprintln(m.out, indent(2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, total)))
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if len(m.errors) == 0 {
		fmt.Fprintln(m.out)
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent(2)+errorStyle.Bold(true).Render("Errors:"))
	for i, e := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n", indent(4),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", e.Time.Format("15:04:05"))),
			errorStyle.Render(e.Label))
		fmt.Fprintf(m.out, "%s%s\n", indent(6), errorStyle.Render(fmt.Sprintf("Error: %v", e.Error)))
	}
	fmt.Fprintln(m.out)
}
