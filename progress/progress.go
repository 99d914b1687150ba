// Package progress renders a terminal progress meter on stderr. When stderr
// is not a terminal updates go to the verbose log instead.
package progress

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"v.io/x/lib/vlog"
)

const barWidth = 50

// Meter tracks progress of a counted operation.
type Meter struct {
	mu       sync.Mutex
	label    string
	total    uint64
	current  uint64
	start    time.Time
	lastDraw time.Time
	isTTY    bool
}

// New starts a meter for total steps.
func New(label string, total uint64) *Meter {
	m := &Meter{
		label: label,
		total: total,
		start: time.Now(),
		isTTY: isTerminal(os.Stderr),
	}
	m.draw(true)
	return m
}

func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

// Add advances the meter by n.
func (m *Meter) Add(n uint64) {
	cur := atomic.AddUint64(&m.current, n)
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastDraw) < 100*time.Millisecond && cur < m.total {
		return
	}
	m.draw(false)
}

// Count returns the current step count.
func (m *Meter) Count() uint64 { return atomic.LoadUint64(&m.current) }

// Restart resets the meter for a new phase.
func (m *Meter) Restart(label string, total uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isTTY {
		fmt.Fprint(os.Stderr, "\n")
	}
	m.label = label
	m.total = total
	atomic.StoreUint64(&m.current, 0)
	m.start = time.Now()
	m.draw(true)
}

// Done finishes the meter, drawing the final state.
func (m *Meter) Done() {
	atomic.StoreUint64(&m.current, m.total)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draw(false)
	if m.isTTY {
		fmt.Fprint(os.Stderr, "\n")
	}
}

func (m *Meter) draw(first bool) {
	cur := atomic.LoadUint64(&m.current)
	if !m.isTTY {
		if first || cur == m.total {
			vlog.VI(1).Infof("%s: %d/%d", m.label, cur, m.total)
		}
		return
	}
	m.lastDraw = time.Now()
	total := m.total
	if total == 0 {
		total = 1
	}
	ticks := int(uint64(barWidth) * cur / total)
	if ticks > barWidth {
		ticks = barWidth
	}
	bar := make([]byte, barWidth)
	for i := range bar {
		if i < ticks {
			bar[i] = '='
		} else {
			bar[i] = ' '
		}
	}
	elapsed := time.Since(m.start).Seconds()
	rate := float64(cur) / elapsed
	if elapsed < 1e-3 {
		rate = 0
	}
	fmt.Fprintf(os.Stderr, "\r%s [%s] %d/%d (%.0f/s)",
		m.label, bar, cur, m.total, rate)
}
