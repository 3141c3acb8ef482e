package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func newPixeldrainServer(t *testing.T, name string, payload []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/file/abc123/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"name":    name,
			"size":    len(payload),
		})
	})
	mux.HandleFunc("/api/file/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	return httptest.NewServer(mux)
}

func TestPixeldrainDownload(t *testing.T) {
	payload := []byte("pixeldrain payload bytes")
	srv := newPixeldrainServer(t, "archive.zip", payload)
	defer srv.Close()

	p := NewPixeldrain(srv.Client(), t.TempDir(), 0, nil)
	p.baseURL = srv.URL

	res, err := p.Download(context.Background(), "https://pixeldrain.com/u/abc123", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(filepath.Dir(res.Path))

	if res.Filename != "archive.zip" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if res.Size != int64(len(payload)) {
		t.Fatalf("size = %d", res.Size)
	}
}

func TestPixeldrainRefusesOversizedFromInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/file/abc123/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "name": "big.iso", "size": 1 << 30})
	})
	mux.HandleFunc("/api/file/abc123", func(w http.ResponseWriter, r *http.Request) {
		t.Error("payload endpoint hit despite oversized info")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPixeldrain(srv.Client(), t.TempDir(), 1024, nil)
	p.baseURL = srv.URL

	_, err := p.Download(context.Background(), "https://pixeldrain.com/u/abc123", nil)
	var sizeErr *SizeLimitError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("err = %v, want SizeLimitError", err)
	}
}

func TestPixeldrainInfoFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/file/abc123/info", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "file not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPixeldrain(srv.Client(), t.TempDir(), 0, nil)
	p.baseURL = srv.URL

	if _, err := p.Download(context.Background(), "https://pixeldrain.com/u/abc123", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestPixeldrainIDExtraction(t *testing.T) {
	cases := map[string]string{
		"https://pixeldrain.com/u/AbC123":         "AbC123",
		"https://pixeldrain.com/api/file/zzz":     "zzz",
		"http://pixeldrain.com/l/listid?x=1":      "listid",
		"https://example.com/u/notpixel":          "",
		"https://pixeldrain.com/gallery/whatever": "",
	}
	for in, want := range cases {
		m := pixeldrainIDPattern.FindStringSubmatch(in)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != want {
			t.Errorf("id(%q) = %q, want %q", in, got, want)
		}
	}
}
