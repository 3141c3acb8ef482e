package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// YTDLP resolves media URLs through the external yt-dlp tool, extracting
// an mp3 audio track. The tool runs as a child process, so the blocking
// extraction never stalls the caller's scheduler; its native progress lines
// are parsed off stdout and bridged into the callback contract.
type YTDLP struct {
	binary      string
	scratchDir  string
	maxSize     int64
	cookiesFile string
	logger      *logrus.Logger
}

func NewYTDLP(scratchDir string, maxSize int64, cookiesFile string, logger *logrus.Logger) *YTDLP {
	if logger == nil {
		logger = logrus.New()
	}
	return &YTDLP{
		binary:      "yt-dlp",
		scratchDir:  scratchDir,
		maxSize:     maxSize,
		cookiesFile: cookiesFile,
		logger:      logger,
	}
}

// progress lines look like:
// [download]  42.3% of 5.21MiB at 1.02MiB/s ETA 00:03
var ytdlpProgressPattern = regexp.MustCompile(
	`^\[download\]\s+([\d.]+)% of\s+~?\s*([\d.]+)(B|KiB|MiB|GiB)(?:\s+at\s+([\d.]+)(B|KiB|MiB|GiB)/s)?(?:\s+ETA\s+([\d:]+))?`)

type ytdlpInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

func (y *YTDLP) Download(ctx context.Context, rawURL string, progress ProgressFunc) (*Result, error) {
	rawURL = normalizeMediaURL(rawURL)

	dir, err := newScratchDir(y.scratchDir)
	if err != nil {
		return nil, err
	}
	fail := func(failErr error) (*Result, error) {
		os.RemoveAll(dir)
		return nil, failErr
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"--no-check-certificates",
		"--no-cache-dir",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3", "--audio-quality", "192K",
		"--write-info-json",
		"-o", filepath.Join(dir, "%(title)s.%(ext)s"),
	}
	if y.maxSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(y.maxSize, 10))
	}
	if y.cookiesFile != "" {
		// One-shot private copy; removed together with the scratch dir.
		cookiePath := filepath.Join(dir, "cookies.txt")
		if err := copyFile(y.cookiesFile, cookiePath); err != nil {
			return fail(fmt.Errorf("stage cookies file: %w", err))
		}
		args = append(args, "--cookies", cookiePath)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, y.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(fmt.Errorf("resolver stdout pipe: %w", err))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fail(&ResolverError{Reason: ReasonMissingTool, Detail: "yt-dlp executable not found"})
		}
		return fail(fmt.Errorf("start resolver: %w", err))
	}

	y.scanProgress(stdout, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(classifyResolverFailure(stderr.String()))
	}

	path, size, err := findResolvedAudio(dir)
	if err != nil {
		return fail(err)
	}
	if y.maxSize > 0 && size > y.maxSize {
		return fail(&SizeLimitError{Size: size, Limit: y.maxSize})
	}

	meta := readResolverInfo(dir)
	y.logger.WithField("filename", filepath.Base(path)).Infof("resolver download finished: %d bytes", size)

	return &Result{
		Path:     path,
		Filename: filepath.Base(path),
		Size:     size,
		Meta:     meta,
	}, nil
}

// scanProgress translates yt-dlp's stdout lines into the callback contract,
// throttled to 1 Hz and clamped monotonically non-decreasing (fragmented
// downloads restart their counters between fragments).
func (y *YTDLP) scanProgress(stdout io.Reader, progress ProgressFunc) {
	if progress == nil {
		io.Copy(io.Discard, stdout)
		return
	}

	var (
		lastFire time.Time
		highDone int64
	)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		m := ytdlpProgressPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		pct, _ := strconv.ParseFloat(m[1], 64)
		total := parseSizeUnit(m[2], m[3])
		done := int64(pct / 100 * float64(total))
		if done < highDone {
			done = highDone
		}
		highDone = done

		if time.Since(lastFire) < time.Second && pct < 100 {
			continue
		}
		lastFire = time.Now()

		speed := 0.0
		if m[4] != "" {
			speed = float64(parseSizeUnit(m[4], m[5]))
		}
		progress(done, total, speed, parseClockETA(m[6]))
	}
}

func normalizeMediaURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if strings.EqualFold(u.Host, "music.youtube.com") {
		u.Host = "www.youtube.com"
		return u.String()
	}
	return rawURL
}

func classifyResolverFailure(stderr string) error {
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "ffmpeg") && (strings.Contains(lowered, "not found") || strings.Contains(lowered, "not installed")):
		return &ResolverError{Reason: ReasonMissingTool, Detail: "ffmpeg is not installed"}
	case strings.Contains(lowered, "sign in to confirm your age") || strings.Contains(lowered, "age-restricted") || strings.Contains(lowered, "age restricted"):
		return &ResolverError{Reason: ReasonRestricted, Detail: "content is age-restricted"}
	case strings.Contains(lowered, "confirm you're not a bot") || strings.Contains(lowered, "sign in to confirm"):
		return &ResolverError{Reason: ReasonRestricted, Detail: "source requires a signed-in session"}
	}
	return &ResolverError{Reason: ReasonGeneric, Detail: lastNonEmptyLine(stderr)}
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "extraction failed"
}

func findResolvedAudio(dir string) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("read resolver output dir: %w", err)
	}

	var bestPath string
	var bestSize int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".info.json") || name == "cookies.txt" || strings.HasSuffix(name, ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if strings.HasSuffix(name, ".mp3") || info.Size() > bestSize {
			bestPath = filepath.Join(dir, name)
			bestSize = info.Size()
			if strings.HasSuffix(name, ".mp3") {
				break
			}
		}
	}

	if bestPath == "" || bestSize == 0 {
		return "", 0, fmt.Errorf("%w: resolver produced no output file", ErrContentInvalid)
	}
	return bestPath, bestSize, nil
}

func readResolverInfo(dir string) *Metadata {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".info.json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil
		}
		var info ytdlpInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil
		}
		// The info json stays in the scratch dir and is removed with it.
		return &Metadata{
			Title:     info.Title,
			Performer: info.Uploader,
			Duration:  time.Duration(info.Duration * float64(time.Second)),
		}
	}
	return nil
}

func parseSizeUnit(value, unit string) int64 {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	switch unit {
	case "KiB":
		v *= 1024
	case "MiB":
		v *= 1024 * 1024
	case "GiB":
		v *= 1024 * 1024 * 1024
	}
	return int64(v)
}

func parseClockETA(clock string) time.Duration {
	if clock == "" {
		return 0
	}
	parts := strings.Split(clock, ":")
	var seconds int64
	for _, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0
		}
		seconds = seconds*60 + n
	}
	return time.Duration(seconds) * time.Second
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}

var _ Adapter = (*YTDLP)(nil)
