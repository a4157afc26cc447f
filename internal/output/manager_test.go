package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/bridge"
)

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:               "0 B",
		1023:            "1023 B",
		1024:            "1.00 KB",
		1536:            "1.50 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
		1<<40 + 1<<39:   "1.50 TB",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatBytes(in), "%d", in)
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "0 B/s", FormatSpeed(100, 0))
	assert.Equal(t, "0 B/s", FormatSpeed(0, time.Second))
	assert.Equal(t, "2.00 KB/s", FormatSpeed(4096, 2*time.Second))
}

func TestProgressLine(t *testing.T) {
	bar := newBar()
	line := progressLine(bar, bridge.Progress{Total: 2048, Transferred: 1024}, time.Second)
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "1.00 KB / 2.00 KB")
	assert.Contains(t, line, "1.00 KB/s")

	unknown := progressLine(bar, bridge.Progress{Total: -1, Transferred: 10}, time.Second)
	assert.NotContains(t, unknown, "%")
	assert.True(t, strings.HasPrefix(unknown, "10 B"))
}

func TestManagerLifecycle(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(&out)
	assert.False(t, m.interactive)

	a := m.Register("a.bin")
	b := m.Register("b.bin")
	c := m.Register("c.bin")
	m.Update(a, bridge.Progress{Total: 100, Transferred: 40})

	ta, ok := m.Get(a)
	require.True(t, ok)
	assert.Equal(t, StatusActive, ta.Status)

	lines := m.frame(50)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "a.bin")
	assert.Contains(t, lines[1], "40.0%")
	assert.Contains(t, lines[2], "Waiting b.bin")

	m.Update(a, bridge.Progress{Total: 100, Transferred: 100})
	m.Complete(a, "")
	m.ReportError(b, errors.New("boom"))
	m.Cancel(c)
	m.Update(c, bridge.Progress{Total: 1, Transferred: 1})

	tc, _ := m.Get(c)
	assert.Equal(t, StatusCancelled, tc.Status)
	assert.Zero(t, tc.Progress.Transferred, "finished transfers ignore progress")

	succeeded, failed, total := m.Summary()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 3, total)

	m.StartDisplay()
	m.StopDisplay()
	text := out.String()
	assert.Contains(t, text, "Completed a.bin")
	assert.Contains(t, text, "Failed b.bin")
	assert.Contains(t, text, "Cancelled c.bin")
	assert.Contains(t, text, "Completed 1 of 3")
	assert.Contains(t, text, "Failed 1 of 3")
	assert.Contains(t, text, "Error: boom")
}

func TestManagerOverall(t *testing.T) {
	m := NewManager(&bytes.Buffer{})
	m.Register("a")
	m.SetOverall(bridge.Progress{Total: 400, Transferred: 100})
	lines := m.frame(10)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Total")
	assert.Contains(t, lines[0], "25.0%")
	succeeded, failed, total := m.Summary()
	assert.Equal(t, []int{0, 0, 1}, []int{succeeded, failed, total})
}

func TestManagerTrimsFinished(t *testing.T) {
	m := NewManager(&bytes.Buffer{})
	for i := range 20 {
		id := m.Register("f")
		if i < 18 {
			m.Complete(id, "")
		}
	}
	lines := m.frame(8)
	assert.Len(t, lines, 8)
	assert.Contains(t, lines[2], "13 transfers finished")
}
