package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGDriveFileID(t *testing.T) {
	cases := map[string]string{
		"https://drive.google.com/file/d/1AbC-_def/view?usp=sharing": "1AbC-_def",
		"https://drive.google.com/uc?export=download&id=XYZ123":      "XYZ123",
		"https://drive.google.com/open?id=qq-22_33":                  "qq-22_33",
	}
	for in, want := range cases {
		got, err := gdriveFileID(in)
		if err != nil {
			t.Fatalf("gdriveFileID(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("gdriveFileID(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := gdriveFileID("https://drive.google.com/drive/folders"); err == nil {
		t.Fatal("expected error for url without file id")
	}
}

func TestResolveConfirmURLTokenLink(t *testing.T) {
	body := `<a href="/uc?export=download&amp;confirm=t0k3n&amp;id=FILE">Download anyway</a>`
	got, ok := resolveConfirmURL(body, "FILE")
	if !ok {
		t.Fatal("token not found")
	}
	if !strings.Contains(got, "confirm=t0k3n") || !strings.Contains(got, "id=FILE") {
		t.Fatalf("resolved url = %q", got)
	}
}

func TestResolveConfirmURLHiddenInput(t *testing.T) {
	body := `<input type="hidden" name="confirm" value="abc123">`
	got, ok := resolveConfirmURL(body, "FILE")
	if !ok || !strings.Contains(got, "confirm=abc123") {
		t.Fatalf("resolved = %q ok = %v", got, ok)
	}
}

func TestResolveConfirmURLFormAction(t *testing.T) {
	body := `<form id="download-form" action="https://drive.usercontent.google.com/download" method="get">
		<input type="hidden" name="id" value="FILE">
		<input type="hidden" name="confirm" value="t">
		<input type="hidden" name="uuid" value="u-u-i-d">
	</form>`
	got, ok := resolveConfirmURL(body, "FILE")
	if !ok {
		t.Fatal("form action not resolved")
	}
	for _, want := range []string{"drive.usercontent.google.com/download", "id=FILE", "confirm=t", "uuid=u-u-i-d"} {
		if !strings.Contains(got, want) {
			t.Fatalf("resolved url %q missing %q", got, want)
		}
	}
}

func TestResolveConfirmURLNoToken(t *testing.T) {
	if _, ok := resolveConfirmURL(`<html><body>Quota exceeded</body></html>`, "FILE"); ok {
		t.Fatal("resolved a url from a page with no confirmation")
	}
}

func TestLooksLikeHTML(t *testing.T) {
	dir := t.TempDir()

	htmlPath := filepath.Join(dir, "page")
	os.WriteFile(htmlPath, []byte("<!DOCTYPE html><html><body>error</body></html>"), 0o644)
	if !looksLikeHTML(htmlPath) {
		t.Fatal("html page not recognized")
	}

	binPath := filepath.Join(dir, "bin")
	os.WriteFile(binPath, []byte{0x7f, 'E', 'L', 'F', 0, 1, 2, 3}, 0o644)
	if looksLikeHTML(binPath) {
		t.Fatal("binary misclassified as html")
	}
}

func TestIsGDriveURL(t *testing.T) {
	if !IsGDriveURL("https://drive.google.com/file/d/x/view") {
		t.Fatal("drive url not matched")
	}
	if IsGDriveURL("https://example.com/file") {
		t.Fatal("plain url matched")
	}
}
