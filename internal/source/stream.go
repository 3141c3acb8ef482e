package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const copyChunkSize = 128 * 1024

// reporter throttles progress callbacks to roughly 1 Hz and derives an
// instantaneous speed and ETA from byte deltas between firings.
type reporter struct {
	cb        ProgressFunc
	total     int64
	done      int64
	interval  time.Duration
	start     time.Time
	lastFire  time.Time
	lastBytes int64
}

func newReporter(total int64, cb ProgressFunc) *reporter {
	now := time.Now()
	return &reporter{
		cb:       cb,
		total:    total,
		interval: time.Second,
		start:    now,
		lastFire: now,
	}
}

func (r *reporter) add(n int) {
	if r == nil || r.cb == nil {
		return
	}
	r.done += int64(n)

	now := time.Now()
	elapsed := now.Sub(r.lastFire)
	if elapsed < r.interval {
		return
	}

	speed := float64(r.done-r.lastBytes) / elapsed.Seconds()
	var eta time.Duration
	if speed > 0 && r.total > 0 && r.done < r.total {
		eta = time.Duration(float64(r.total-r.done)/speed) * time.Second
	}
	r.lastFire = now
	r.lastBytes = r.done
	r.cb(r.done, r.total, speed, eta)
}

func (r *reporter) flush() {
	if r == nil || r.cb == nil {
		return
	}
	elapsed := time.Since(r.start).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(r.done) / elapsed
	}
	r.cb(r.done, r.total, speed, 0)
}

// newScratchDir allocates a download-scoped directory so that concurrently
// running transfers can never collide on remote-derived filenames.
func newScratchDir(root string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "transfer-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// sanitizeFilename strips path separators and control characters from a
// remote-supplied name.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." {
		return "downloaded_file"
	}
	return name
}

// streamBody copies an HTTP response body into a file under dir, enforcing the
// size ceiling mid-stream and checking cancellation between chunks. The file
// (and dir) is removed on every error path.
func streamBody(ctx context.Context, body io.Reader, dir, filename string, declared, limit int64, progress ProgressFunc) (string, int64, error) {
	path := filepath.Join(dir, sanitizeFilename(filename))
	out, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", 0, fmt.Errorf("create scratch file: %w", err)
	}

	fail := func(failErr error) (string, int64, error) {
		out.Close()
		os.RemoveAll(dir)
		return "", 0, failErr
	}

	rep := newReporter(declared, progress)
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fail(fmt.Errorf("write scratch file: %w", writeErr))
			}
			written += int64(n)
			if limit > 0 && written > limit {
				return fail(&SizeLimitError{Size: written, Limit: limit})
			}
			rep.add(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fail(fmt.Errorf("%w: read body: %v", ErrUnavailable, readErr))
		}
	}

	if err := out.Close(); err != nil {
		os.RemoveAll(dir)
		return "", 0, fmt.Errorf("close scratch file: %w", err)
	}
	if written == 0 {
		os.RemoveAll(dir)
		return "", 0, fmt.Errorf("%w: empty payload", ErrContentInvalid)
	}
	rep.total = written
	rep.flush()
	return path, written, nil
}

// filenameFromResponse prefers the Content-Disposition name over the URL path.
func filenameFromResponse(resp *http.Response, fallbackURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	return filenameFromURL(fallbackURL)
}

func filenameFromURL(rawURL string) string {
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if trimmed == "" {
		return "downloaded_file"
	}
	return trimmed
}
