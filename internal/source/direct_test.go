package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirectDownload(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="fox.txt"`)
		w.Write(payload)
	}))
	defer srv.Close()

	root := t.TempDir()
	d := NewDirect(srv.Client(), root, 0, nil)

	var samples int
	res, err := d.Download(context.Background(), srv.URL+"/fox.txt", func(downloaded, total int64, _ float64, _ time.Duration) {
		samples++
	})
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(filepath.Dir(res.Path))

	if res.Filename != "fox.txt" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if res.Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", res.Size, len(payload))
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatal("payload corrupted in transit")
	}
	if samples == 0 {
		t.Fatal("no progress reported")
	}
}

func TestDirectRefusesOversizedBeforeStreaming(t *testing.T) {
	var gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
		}
		w.Header().Set("Content-Length", "1048576")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(make([]byte, 1048576))
	}))
	defer srv.Close()

	d := NewDirect(srv.Client(), t.TempDir(), 1024, nil)

	_, err := d.Download(context.Background(), srv.URL, nil)
	var sizeErr *SizeLimitError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("err = %v, want SizeLimitError", err)
	}
	if sizeErr.Size != 1048576 || sizeErr.Limit != 1024 {
		t.Fatalf("unexpected size error: %+v", sizeErr)
	}
	if gets != 0 {
		t.Fatal("payload was fetched despite oversized preflight")
	}
}

func TestDirectMidStreamLimitCleansUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length disclosed, forcing the mid-stream check.
		w.Header().Set("Transfer-Encoding", "chunked")
		w.Write(make([]byte, 512*1024))
	}))
	defer srv.Close()

	root := t.TempDir()
	d := NewDirect(srv.Client(), root, 256*1024, nil)

	_, err := d.Download(context.Background(), srv.URL, nil)
	var sizeErr *SizeLimitError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("err = %v, want mid-stream SizeLimitError", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("partial file left behind: %v", entries)
	}
}

func TestDirectBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewDirect(srv.Client(), t.TempDir(), 0, nil)
	if _, err := d.Download(context.Background(), srv.URL, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"plain.txt":         "plain.txt",
		"../../etc/passwd":  ".._.._etc_passwd",
		"a/b\\c.bin":        "a_b_c.bin",
		"":                  "downloaded_file",
		"  spaced name  .z": "spaced name  .z",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
