package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"devgroup-bot/internal/domain"
)

func newTextServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := NewClient(Options{
		TextURL:  srv.URL + "/text",
		ImageURL: srv.URL + "/image",
		APIKey:   "secret",
	})
	c.httpClient = srv.Client()
	return srv, c
}

func TestChatExtractsNestedText(t *testing.T) {
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": "hello there"}},
			},
		})
	})
	defer srv.Close()

	got, err := c.Chat(context.Background(), []domain.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello there" {
		t.Fatalf("reply = %q", got)
	}
}

func TestChatRetriesWithBearerOn401(t *testing.T) {
	var auths []string
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "ok"})
	})
	defer srv.Close()

	got, err := c.Chat(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Fatalf("reply = %q", got)
	}
	if len(auths) != 2 || auths[0] != "secret" || auths[1] != "Bearer secret" {
		t.Fatalf("auth attempts = %v", auths)
	}
}

func TestChatFallsBackToWrappedSchemaOn422(t *testing.T) {
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, wrapped := body["params"]; !wrapped {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "wrapped worked"})
	})
	defer srv.Close()

	got, err := c.Chat(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "wrapped worked" {
		t.Fatalf("reply = %q", got)
	}
}

func TestChatEmptyResponse(t *testing.T) {
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"unrelated": 1})
	})
	defer srv.Close()

	if _, err := c.Chat(context.Background(), nil); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestGenerateImageURL(t *testing.T) {
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"url": "https://cdn.example.com/pic.png"})
	})
	defer srv.Close()

	img, err := c.GenerateImage(context.Background(), "a cat")
	if err != nil {
		t.Fatal(err)
	}
	if img.URL != "https://cdn.example.com/pic.png" || img.Data != nil {
		t.Fatalf("image = %+v", img)
	}
}

func TestGenerateImageBase64(t *testing.T) {
	srv, c := newTextServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": "data:image/png;base64,aGVsbG8=",
		})
	})
	defer srv.Close()

	img, err := c.GenerateImage(context.Background(), "a dog")
	if err != nil {
		t.Fatal(err)
	}
	if string(img.Data) != "hello" {
		t.Fatalf("decoded = %q", img.Data)
	}
}

func TestFirstTextPrefersKnownKeys(t *testing.T) {
	var parsed any
	json.Unmarshal([]byte(`{"meta":{"id":"x"},"output":[{"text":"found"}]}`), &parsed)
	got, ok := firstText(parsed)
	if !ok || got != "found" {
		t.Fatalf("firstText = %q ok=%v", got, ok)
	}
}
