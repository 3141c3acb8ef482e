package source

import (
	"errors"
	"testing"
	"time"
)

func TestProgressLineParsing(t *testing.T) {
	cases := []struct {
		line    string
		percent string
		size    int64
		speed   int64
		eta     time.Duration
	}{
		{
			line:    "[download]  42.3% of 5.00MiB at 1.00MiB/s ETA 00:03",
			percent: "42.3",
			size:    5 * 1024 * 1024,
			speed:   1024 * 1024,
			eta:     3 * time.Second,
		},
		{
			line:    "[download] 100.0% of 512.00KiB at 2.00KiB/s ETA 00:00",
			percent: "100.0",
			size:    512 * 1024,
			speed:   2 * 1024,
		},
		{
			line:    "[download]   5.0% of ~ 1.50GiB at 10.00MiB/s ETA 02:30",
			percent: "5.0",
			size:    int64(1.5 * 1024 * 1024 * 1024),
			speed:   10 * 1024 * 1024,
			eta:     150 * time.Second,
		},
	}

	for _, tc := range cases {
		m := ytdlpProgressPattern.FindStringSubmatch(tc.line)
		if m == nil {
			t.Fatalf("line not matched: %q", tc.line)
		}
		if m[1] != tc.percent {
			t.Errorf("percent = %q, want %q for %q", m[1], tc.percent, tc.line)
		}
		if got := parseSizeUnit(m[2], m[3]); got != tc.size {
			t.Errorf("size = %d, want %d for %q", got, tc.size, tc.line)
		}
		if m[4] != "" {
			if got := parseSizeUnit(m[4], m[5]); got != tc.speed {
				t.Errorf("speed = %d, want %d for %q", got, tc.speed, tc.line)
			}
		}
		if got := parseClockETA(m[6]); got != tc.eta {
			t.Errorf("eta = %v, want %v for %q", got, tc.eta, tc.line)
		}
	}

	if ytdlpProgressPattern.MatchString("[ExtractAudio] Destination: song.mp3") {
		t.Fatal("non-progress line matched")
	}
}

func TestClassifyResolverFailure(t *testing.T) {
	cases := []struct {
		stderr string
		reason ResolverReason
	}{
		{"ERROR: ffmpeg not found. Please install it", ReasonMissingTool},
		{"ERROR: Sign in to confirm your age", ReasonRestricted},
		{"ERROR: [youtube] xyz: Sign in to confirm you're not a bot", ReasonRestricted},
		{"ERROR: Video unavailable", ReasonGeneric},
	}
	for _, tc := range cases {
		err := classifyResolverFailure(tc.stderr)
		var resErr *ResolverError
		if !errors.As(err, &resErr) {
			t.Fatalf("classify(%q) = %T", tc.stderr, err)
		}
		if resErr.Reason != tc.reason {
			t.Errorf("classify(%q) reason = %s, want %s", tc.stderr, resErr.Reason, tc.reason)
		}
	}
}

func TestClassifyKeepsLastStderrLine(t *testing.T) {
	stderr := "WARNING: something minor\nERROR: Video unavailable\n\n"
	err := classifyResolverFailure(stderr)
	var resErr *ResolverError
	if !errors.As(err, &resErr) {
		t.Fatalf("unexpected type %T", err)
	}
	if resErr.Detail != "ERROR: Video unavailable" {
		t.Fatalf("detail = %q", resErr.Detail)
	}
}

func TestNormalizeMediaURL(t *testing.T) {
	got := normalizeMediaURL("https://music.youtube.com/watch?v=abc&list=x")
	if got != "https://www.youtube.com/watch?v=abc&list=x" {
		t.Fatalf("normalized = %q", got)
	}

	passthrough := "https://www.youtube.com/watch?v=abc"
	if got := normalizeMediaURL(passthrough); got != passthrough {
		t.Fatalf("url rewritten unexpectedly: %q", got)
	}
}

func TestParseClockETA(t *testing.T) {
	cases := map[string]time.Duration{
		"00:03":    3 * time.Second,
		"02:30":    150 * time.Second,
		"01:00:00": time.Hour,
		"":         0,
		"bogus":    0,
	}
	for in, want := range cases {
		if got := parseClockETA(in); got != want {
			t.Errorf("parseClockETA(%q) = %v, want %v", in, got, want)
		}
	}
}
