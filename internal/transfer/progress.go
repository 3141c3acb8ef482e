package transfer

import (
	"io"
	"sync/atomic"
	"time"
)

// countingReader counts the bytes pulled out of the underlying reader. The
// count is read concurrently by the upload sampler.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func newCountingReader(r io.Reader) *countingReader {
	return &countingReader{r: r}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n.Add(int64(n))
	}
	return n, err
}

func (c *countingReader) Count() int64 {
	return c.n.Load()
}

// sampleUpload polls the reader's byte count once a second until stop is
// closed, reporting the cumulative average rate since the upload began. The
// Bot API offers no upload callbacks, so progress is derived from how fast
// the payload is consumed.
func sampleUpload(cr *countingReader, total int64, stop <-chan struct{}, report func(sent, total int64, speedBps float64)) {
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sent := cr.Count()
			report(sent, total, uploadSpeed(sent, time.Since(start)))
		}
	}
}

func uploadSpeed(sent int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(sent) / elapsed.Seconds()
}
