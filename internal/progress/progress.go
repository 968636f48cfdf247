package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ftsession/internal/logging"
)

// Stats holds transfer statistics. TotalBytes is zero when the sender
// gives no length, which is the normal case on the data channel.
type Stats struct {
	TotalBytes       int64
	TransferredBytes atomic.Int64
	StartTime        time.Time
	Filename         string
}

// NewStats creates statistics for a payload of unknown length
func NewStats(filename string) *Stats {
	return &Stats{
		StartTime: time.Now(),
		Filename:  filename,
	}
}

// Reporter handles progress reporting
type Reporter struct {
	stats       *Stats
	interval    time.Duration
	out         io.Writer
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	showConsole bool
}

// NewReporter creates a new progress reporter
func NewReporter(stats *Stats, showConsole bool) *Reporter {
	return &Reporter{
		stats:       stats,
		interval:    time.Second,
		out:         os.Stdout,
		done:        make(chan struct{}),
		showConsole: showConsole,
	}
}

// SetOutput redirects console progress, mostly for tests
func (r *Reporter) SetOutput(w io.Writer) {
	r.out = w
}

// SetInterval changes the refresh interval. Call before Start.
func (r *Reporter) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.reportLoop()
}

// Stop stops progress reporting. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if r.showConsole {
			fmt.Fprintln(r.out) // newline after the progress line
		}
	})
}

// reportLoop runs the progress reporting loop
func (r *Reporter) reportLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	lastTransferred := int64(0)
	lastUpdate := time.Now()
	ticks := 0

	for {
		select {
		case now := <-ticker.C:
			transferred := r.stats.TransferredBytes.Load()
			elapsed := now.Sub(lastUpdate).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(transferred-lastTransferred) / 1024 / 1024 / elapsed
			}

			ticks++
			if ticks%10 == 0 {
				logging.LogTransferProgress(r.stats.Filename, transferred, r.stats.TotalBytes, rate)
			}
			if r.showConsole {
				fmt.Fprint(r.out, r.Line(transferred, rate))
			}

			lastTransferred = transferred
			lastUpdate = now
		case <-r.done:
			return
		}
	}
}

// Line renders a single carriage-returned progress line
func (r *Reporter) Line(transferred int64, rate float64) string {
	received := float64(transferred) / 1024 / 1024

	if r.stats.TotalBytes <= 0 {
		return fmt.Sprintf("\r%s: %.2f MB received at %.2f MB/s", r.stats.Filename, received, rate)
	}

	const barWidth = 30
	percent := float64(transferred) / float64(r.stats.TotalBytes) * 100
	completed := min(barWidth, int(float64(barWidth)*percent/100))
	bar := strings.Repeat("█", completed) + strings.Repeat("░", barWidth-completed)

	return fmt.Sprintf("\r[%s] %.1f%% (%.2f/%.2f MB) at %.2f MB/s",
		bar, percent, received, float64(r.stats.TotalBytes)/1024/1024, rate)
}

// UpdateTransferred atomically updates the transferred bytes count
func (s *Stats) UpdateTransferred(bytes int64) {
	s.TransferredBytes.Add(bytes)
}

// GetTransferred atomically gets the current transferred bytes count
func (s *Stats) GetTransferred() int64 {
	return s.TransferredBytes.Load()
}

// SetTransferred atomically sets the transferred bytes count
func (s *Stats) SetTransferred(bytes int64) {
	s.TransferredBytes.Store(bytes)
}
