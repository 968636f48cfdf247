package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards bytes.Buffer against the reporter goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStatsCounters(t *testing.T) {
	stats := NewStats("payload.bin")

	stats.UpdateTransferred(100)
	stats.UpdateTransferred(28)
	assert.Equal(t, int64(128), stats.GetTransferred())

	stats.SetTransferred(7)
	assert.Equal(t, int64(7), stats.GetTransferred())
	assert.NotZero(t, stats.StartTime)
}

func TestReporterLineUnknownTotal(t *testing.T) {
	r := NewReporter(NewStats("payload.bin"), true)

	line := r.Line(2*1024*1024, 1.5)
	assert.Equal(t, "\rpayload.bin: 2.00 MB received at 1.50 MB/s", line)
}

func TestReporterLineKnownTotal(t *testing.T) {
	stats := NewStats("payload.bin")
	stats.TotalBytes = 4 * 1024 * 1024
	r := NewReporter(stats, true)

	line := r.Line(2*1024*1024, 1)
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "(2.00/4.00 MB)")
}

func TestReporterStartStop(t *testing.T) {
	stats := NewStats("payload.bin")
	out := &syncBuffer{}

	r := NewReporter(stats, true)
	r.SetOutput(out)
	r.SetInterval(5 * time.Millisecond)
	r.Start()

	stats.UpdateTransferred(1024)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("payload.bin"))
	}, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	assert.True(t, bytes.HasSuffix([]byte(out.String()), []byte("\n")))
}
