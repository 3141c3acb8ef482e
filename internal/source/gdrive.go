package source

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// GDrive downloads shared Google Drive files, working through the
// "virus scan warning" interstitial page served for large payloads.
type GDrive struct {
	client     *http.Client
	scratchDir string
	maxSize    int64
	logger     *logrus.Logger
}

const (
	gdriveExportURL   = "https://drive.google.com/uc?export=download&id=%s"
	gdriveBodyLimit   = 2 * 1024 * 1024
	htmlSizeHeuristic = 100 * 1024
)

var (
	gdriveIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/file/d/([\w-]+)`),
		regexp.MustCompile(`[?&]id=([\w-]+)`),
	}

	// Confirmation extraction patterns, tried in order; first match wins.
	gdriveConfirmToken = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
	gdriveConfirmInput = regexp.MustCompile(`name="confirm"\s+value="([^"]+)"`)
	gdriveDirectHref   = regexp.MustCompile(`href="(/uc\?export=download[^"]+)"`)
	gdriveFormAction   = regexp.MustCompile(`<form[^>]+action="([^"]+)"`)
	gdriveHiddenInput  = regexp.MustCompile(`<input[^>]+name="([^"]+)"[^>]+value="([^"]*)"`)
)

func NewGDrive(client *http.Client, scratchDir string, maxSize int64, logger *logrus.Logger) *GDrive {
	if logger == nil {
		logger = logrus.New()
	}
	return &GDrive{
		client:     client,
		scratchDir: scratchDir,
		maxSize:    maxSize,
		logger:     logger,
	}
}

// IsGDriveURL reports whether the URL belongs to Google Drive.
func IsGDriveURL(rawURL string) bool {
	return strings.Contains(rawURL, "drive.google.com") || strings.Contains(rawURL, "drive.usercontent.google.com")
}

func (g *GDrive) Download(ctx context.Context, rawURL string, progress ProgressFunc) (*Result, error) {
	id, err := gdriveFileID(rawURL)
	if err != nil {
		return nil, err
	}

	// The confirmation flow needs the session cookies Google sets on the
	// interstitial page, so each download runs with a fresh jar.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := g.client
	if client == nil {
		client = &http.Client{}
	}
	jarClient := *client
	jarClient.Jar = jar

	target := fmt.Sprintf(gdriveExportURL, id)
	resp, err := g.get(ctx, &jarClient, target)
	if err != nil {
		return nil, err
	}

	if isHTMLResponse(resp) {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, gdriveBodyLimit))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: read interstitial page: %v", ErrUnavailable, readErr)
		}

		resolved, ok := resolveConfirmURL(string(body), id)
		if !ok {
			return nil, fmt.Errorf("%w: drive interstitial page had no recognizable confirmation token", ErrContentInvalid)
		}
		g.logger.WithField("file_id", id).Info("drive interstitial resolved")

		resp, err = g.get(ctx, &jarClient, resolved)
		if err != nil {
			return nil, err
		}
		if isHTMLResponse(resp) {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: drive kept answering with HTML after confirmation", ErrContentInvalid)
		}
	}
	defer resp.Body.Close()

	if g.maxSize > 0 && resp.ContentLength > g.maxSize {
		return nil, &SizeLimitError{Size: resp.ContentLength, Limit: g.maxSize}
	}

	dir, err := newScratchDir(g.scratchDir)
	if err != nil {
		return nil, err
	}

	filename := filenameFromResponse(resp, rawURL)
	path, written, err := streamBody(ctx, resp.Body, dir, filename, resp.ContentLength, g.maxSize, progress)
	if err != nil {
		return nil, err
	}

	// A small payload with HTML signature bytes is an error page that
	// slipped through, not the requested file.
	if written < htmlSizeHeuristic {
		if looksLikeHTML(path) {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("%w: drive returned an HTML error page instead of file content", ErrContentInvalid)
		}
	}

	return &Result{
		Path:     path,
		Filename: sanitizeFilename(filename),
		Size:     written,
	}, nil
}

func (g *GDrive) get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
	return resp, nil
}

func gdriveFileID(rawURL string) (string, error) {
	for _, pattern := range gdriveIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: no drive file id in url", ErrContentInvalid)
}

// resolveConfirmURL extracts a download confirmation from the interstitial
// HTML. Patterns are tried in order; the first match wins.
func resolveConfirmURL(body, id string) (string, bool) {
	if m := gdriveConfirmToken.FindStringSubmatch(body); m != nil {
		return fmt.Sprintf(gdriveExportURL, id) + "&confirm=" + m[1], true
	}
	if m := gdriveConfirmInput.FindStringSubmatch(body); m != nil {
		return fmt.Sprintf(gdriveExportURL, id) + "&confirm=" + m[1], true
	}
	if m := gdriveDirectHref.FindStringSubmatch(body); m != nil {
		return "https://drive.google.com" + html.UnescapeString(m[1]), true
	}
	if m := gdriveFormAction.FindStringSubmatch(body); m != nil {
		action := html.UnescapeString(m[1])
		values := url.Values{}
		for _, input := range gdriveHiddenInput.FindAllStringSubmatch(body, -1) {
			values.Set(input[1], html.UnescapeString(input[2]))
		}
		if values.Get("id") == "" {
			values.Set("id", id)
		}
		if strings.Contains(action, "?") {
			return action + "&" + values.Encode(), true
		}
		return action + "?" + values.Encode(), true
	}
	return "", false
}

func isHTMLResponse(resp *http.Response) bool {
	return strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html")
}

func looksLikeHTML(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = bytes.ToLower(head[:n])
	return bytes.Contains(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html"))
}

var _ Adapter = (*GDrive)(nil)
