package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Pixeldrain downloads files through the pixeldrain.com REST API.
type Pixeldrain struct {
	client     *http.Client
	scratchDir string
	maxSize    int64
	logger     *logrus.Logger
	baseURL    string
}

var pixeldrainIDPattern = regexp.MustCompile(`pixeldrain\.com/(?:u|l|api/file)/([A-Za-z0-9]+)`)

func NewPixeldrain(client *http.Client, scratchDir string, maxSize int64, logger *logrus.Logger) *Pixeldrain {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pixeldrain{
		client:     client,
		scratchDir: scratchDir,
		maxSize:    maxSize,
		logger:     logger,
		baseURL:    "https://pixeldrain.com",
	}
}

// IsPixeldrainURL reports whether the URL points at a pixeldrain share.
func IsPixeldrainURL(rawURL string) bool {
	return strings.Contains(rawURL, "pixeldrain.com")
}

type pixeldrainInfo struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Message string `json:"message"`
}

func (p *Pixeldrain) Download(ctx context.Context, rawURL string, progress ProgressFunc) (*Result, error) {
	m := pixeldrainIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("%w: no pixeldrain file id in url", ErrContentInvalid)
	}
	id := m[1]

	info, err := p.fileInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.maxSize > 0 && info.Size > p.maxSize {
		return nil, &SizeLimitError{Size: info.Size, Limit: p.maxSize}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/file/%s?download", p.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	dir, err := newScratchDir(p.scratchDir)
	if err != nil {
		return nil, err
	}

	filename := info.Name
	if filename == "" {
		filename = filenameFromResponse(resp, rawURL)
	}
	p.logger.WithField("file_id", id).Info("pixeldrain download started")

	declared := info.Size
	if declared <= 0 {
		declared = resp.ContentLength
	}
	path, written, err := streamBody(ctx, resp.Body, dir, filename, declared, p.maxSize, progress)
	if err != nil {
		return nil, err
	}

	return &Result{
		Path:     path,
		Filename: sanitizeFilename(filename),
		Size:     written,
	}, nil
}

func (p *Pixeldrain) fileInfo(ctx context.Context, id string) (*pixeldrainInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/file/%s/info", p.baseURL, id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read info response: %v", ErrUnavailable, err)
	}

	var info pixeldrainInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: malformed info response", ErrContentInvalid)
	}
	if resp.StatusCode != http.StatusOK || !info.Success {
		msg := info.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: pixeldrain info: %s", ErrUnavailable, msg)
	}
	return &info, nil
}

var _ Adapter = (*Pixeldrain)(nil)
