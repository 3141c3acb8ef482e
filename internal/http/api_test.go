package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
	"devgroup-bot/internal/service"
	"devgroup-bot/internal/storage"
	"devgroup-bot/internal/tracker"
)

type memWhitelist struct {
	chats map[int64]domain.WhitelistEntry
}

func (m *memWhitelist) Init(context.Context) error { return nil }

func (m *memWhitelist) Add(_ context.Context, chatID int64) error {
	m.chats[chatID] = domain.WhitelistEntry{ChatID: chatID, AddedAt: time.Now()}
	return nil
}

func (m *memWhitelist) Remove(_ context.Context, chatID int64) (bool, error) {
	_, ok := m.chats[chatID]
	delete(m.chats, chatID)
	return ok, nil
}

func (m *memWhitelist) Contains(_ context.Context, chatID int64) (bool, error) {
	_, ok := m.chats[chatID]
	return ok, nil
}

func (m *memWhitelist) List(context.Context) ([]domain.WhitelistEntry, error) {
	var out []domain.WhitelistEntry
	for _, e := range m.chats {
		out = append(out, e)
	}
	return out, nil
}

var _ repository.WhitelistRepository = (*memWhitelist)(nil)

type memAdmins struct {
	admin *domain.AdminUser
}

func (m *memAdmins) Init(context.Context) error { return nil }

func (m *memAdmins) Create(_ context.Context, admin *domain.AdminUser) (int64, error) {
	admin.ID = 1
	m.admin = admin
	return 1, nil
}

func (m *memAdmins) GetByUsername(_ context.Context, username string) (*domain.AdminUser, error) {
	if m.admin != nil && m.admin.Username == username {
		return m.admin, nil
	}
	return nil, nil
}

func (m *memAdmins) GetByID(_ context.Context, id int64) (*domain.AdminUser, error) {
	if m.admin != nil && m.admin.ID == id {
		return m.admin, nil
	}
	return nil, nil
}

func newTestAPI(t *testing.T) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	admins := &memAdmins{admin: &domain.AdminUser{ID: 1, Username: "admin", PasswordHash: string(hash)}}

	h := NewHandler(
		tracker.NewRegistry("Mirror", 2, nil, nil),
		tracker.NewRegistry("Music", 4, nil, nil),
		service.NewWhitelistService(&memWhitelist{chats: make(map[int64]domain.WhitelistEntry)}),
		service.NewAdminService(admins),
		nil,
		"test-secret",
		time.Hour,
	)

	router := gin.New()
	h.RegisterRoutes(router)
	return router, h
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == "" {
		t.Fatal("empty token")
	}
	return resp["token"]
}

func TestHealth(t *testing.T) {
	router, _ := newTestAPI(t)
	w := doJSON(router, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := newTestAPI(t)
	w := doJSON(router, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router, _ := newTestAPI(t)

	if w := doJSON(router, http.MethodGet, "/api/admin/transfers", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}
	if w := doJSON(router, http.MethodGet, "/api/admin/transfers", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", w.Code)
	}
}

func TestTransfersSnapshot(t *testing.T) {
	router, h := newTestAPI(t)
	token := loginToken(t, router)

	tr := h.mirror.Ensure(-100, 7, "alice", "devs")
	h.mirror.StartTask(tr, "big.iso")

	w := doJSON(router, http.MethodGet, "/api/admin/transfers", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp transfersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Mirror) != 1 || resp.Mirror[0].Label != "big.iso" {
		t.Fatalf("mirror snapshot = %+v", resp.Mirror)
	}
	if len(resp.Audio) != 0 {
		t.Fatalf("audio snapshot = %+v", resp.Audio)
	}
}

func TestWhitelistLifecycle(t *testing.T) {
	router, _ := newTestAPI(t)
	token := loginToken(t, router)

	w := doJSON(router, http.MethodPost, "/api/admin/whitelist", token, map[string]int64{"chat_id": -100})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d", w.Code)
	}

	w = doJSON(router, http.MethodGet, "/api/admin/whitelist", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var entries []domain.WhitelistEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].ChatID != -100 {
		t.Fatalf("entries = %+v", entries)
	}

	w = doJSON(router, http.MethodDelete, "/api/admin/whitelist/-100", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d", w.Code)
	}
	w = doJSON(router, http.MethodDelete, "/api/admin/whitelist/-100", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("second remove status = %d", w.Code)
	}
}

func TestArchiveDisabled(t *testing.T) {
	router, _ := newTestAPI(t)
	token := loginToken(t, router)

	w := doJSON(router, http.MethodGet, "/api/admin/archive/objects", token, nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", w.Code)
	}
	w = doJSON(router, http.MethodGet, "/api/admin/archive/objects/url?key=x", token, nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("url status = %d", w.Code)
	}
}

type memArchive struct {
	presigned []string
}

func (m *memArchive) Archive(_ context.Context, _, filename string) (string, error) {
	return "archive/" + filename, nil
}

func (m *memArchive) ListObjects(context.Context, string) ([]storage.ObjectInfo, error) {
	return []storage.ObjectInfo{{Key: "archive/a.bin", Size: 10}}, nil
}

func (m *memArchive) ObjectURL(_ context.Context, key string, expires time.Duration) (string, error) {
	m.presigned = append(m.presigned, key)
	return "https://cdn.example.com/" + key + "?ttl=" + strconv.Itoa(int(expires.Seconds())), nil
}

var _ storage.Archive = (*memArchive)(nil)

func TestArchiveObjectURL(t *testing.T) {
	router, h := newTestAPI(t)
	archive := &memArchive{}
	h.archive = archive
	token := loginToken(t, router)

	w := doJSON(router, http.MethodGet, "/api/admin/archive/objects/url?key=archive/a.bin&expires=60", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Key       string `json:"key"`
		URL       string `json:"url"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Key != "archive/a.bin" || resp.ExpiresIn != 60 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.URL != "https://cdn.example.com/archive/a.bin?ttl=60" {
		t.Fatalf("url = %q", resp.URL)
	}
	if len(archive.presigned) != 1 {
		t.Fatalf("presign calls = %d", len(archive.presigned))
	}

	w = doJSON(router, http.MethodGet, "/api/admin/archive/objects/url", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing key status = %d", w.Code)
	}
	w = doJSON(router, http.MethodGet, "/api/admin/archive/objects/url?key=x&expires=bogus", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad expires status = %d", w.Code)
	}
}
