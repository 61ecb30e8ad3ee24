package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wallvault/wallvault/pkg/api/handlers"
	"github.com/wallvault/wallvault/pkg/events"
	eventsmem "github.com/wallvault/wallvault/pkg/events/memory"
	"github.com/wallvault/wallvault/pkg/ratelimit"
	kvmem "github.com/wallvault/wallvault/pkg/store/kv/memory"
	objectmem "github.com/wallvault/wallvault/pkg/store/object/memory"
	storemem "github.com/wallvault/wallvault/pkg/store/wallpaper/memory"
	"github.com/wallvault/wallvault/pkg/upload"
	"github.com/wallvault/wallvault/pkg/validate"
	"github.com/wallvault/wallvault/pkg/wallpaper"
)

type testAPI struct {
	router       http.Handler
	store        *storemem.Store
	shuttingDown *atomic.Bool
	health       []handlers.Component
}

func newTestAPI(t *testing.T, rl ratelimit.Config, health []handlers.Component) *testAPI {
	t.Helper()

	store := storemem.New()
	svc := upload.NewService(
		store,
		objectmem.New(),
		events.NewPublisher(eventsmem.New(), nil),
		ratelimit.New(kvmem.New(), rl),
		validate.NewEngine(nil),
		nil,
		"wallpapers-test",
	)

	cfg := Config{}
	cfg.ApplyDefaults()

	shuttingDown := &atomic.Bool{}
	router := NewRouter(Deps{
		Uploads:          svc,
		Store:            store,
		HealthComponents: health,
	}, cfg, shuttingDown)

	return &testAPI{router: router, store: store, shuttingDown: shuttingDown, health: health}
}

// multipartBody builds a multipart body; fileFirst flips the field order.
func multipartBody(t *testing.T, userID string, data []byte, fileFirst bool) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	writeUser := func() {
		if userID != "" {
			if err := mw.WriteField("userId", userID); err != nil {
				t.Fatalf("write field: %v", err)
			}
		}
	}
	writeFile := func() {
		if data != nil {
			fw, err := mw.CreateFormFile("file", "scene.png")
			if err != nil {
				t.Fatalf("create form file: %v", err)
			}
			if _, err := fw.Write(data); err != nil {
				t.Fatalf("write file part: %v", err)
			}
		}
	}

	if fileFirst {
		writeFile()
		writeUser()
	} else {
		writeUser()
		writeFile()
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func testPNG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1920, 1080))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func postUpload(api *testAPI, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadEndpoint(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	body, contentType := multipartBody(t, "user-1", testPNG(t), false)
	rec := postUpload(api, body, contentType)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !regexp.MustCompile(`^wlpr_`).MatchString(resp.ID) {
		t.Errorf("expected wlpr_ id, got %q", resp.ID)
	}
	if resp.Status != upload.StatusProcessing && resp.Status != upload.StatusStored {
		t.Errorf("unexpected status %q", resp.Status)
	}

	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
}

func TestUploadFieldOrderDoesNotMatter(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	body, contentType := multipartBody(t, "user-1", testPNG(t), true)
	rec := postUpload(api, body, contentType)

	if rec.Code != http.StatusOK {
		t.Fatalf("file-first order must work, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadMissingFileProblem(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	body, contentType := multipartBody(t, "user-1", nil, false)
	rec := postUpload(api, body, contentType)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/problem+json") {
		t.Errorf("expected problem+json, got %s", ct)
	}

	var problem map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem["type"] != "https://wallvault.dev/problems/missing-file" {
		t.Errorf("unexpected problem type %v", problem["type"])
	}
	if problem["instance"] != "/upload" {
		t.Errorf("expected instance /upload, got %v", problem["instance"])
	}
	if problem["status"] != float64(http.StatusBadRequest) {
		t.Errorf("expected status 400 in body, got %v", problem["status"])
	}
}

func TestUploadValidationExtensionsSurface(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	body, contentType := multipartBody(t, "user-1", []byte("plain text, not an image"), false)
	rec := postUpload(api, body, contentType)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var problem map[string]any
	json.Unmarshal(rec.Body.Bytes(), &problem)
	if problem["receivedMimeType"] != "text/plain" {
		t.Errorf("expected receivedMimeType extension, got %v", problem["receivedMimeType"])
	}
}

func TestUploadRateLimited(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{Enabled: true, Limit: 1, Window: 10 * time.Second}, nil)
	data := testPNG(t)

	body, contentType := multipartBody(t, "user-1", data, false)
	if rec := postUpload(api, body, contentType); rec.Code != http.StatusOK {
		t.Fatalf("first upload must pass, got %d", rec.Code)
	}

	body, contentType = multipartBody(t, "user-1", data, false)
	rec := postUpload(api, body, contentType)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("expected Retry-After header")
	}

	var problem map[string]any
	json.Unmarshal(rec.Body.Bytes(), &problem)
	if problem["type"] != "https://wallvault.dev/problems/rate-limit-exceeded" {
		t.Errorf("unexpected problem type %v", problem["type"])
	}
	if problem["title"] != "Rate Limit Exceeded" {
		t.Errorf("unexpected title %v", problem["title"])
	}
	if _, ok := problem["retryAfter"]; !ok {
		t.Errorf("expected retryAfter extension")
	}
}

func TestGetWallpaper(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	w := &wallpaper.Wallpaper{
		ID:          wallpaper.NewID(),
		UserID:      "user-1",
		UploadState: wallpaper.StateProcessing,
		MimeType:    "image/png",
		Width:       1920,
		Height:      1080,
	}
	api.store.Put(w)

	req := httptest.NewRequest(http.MethodGet, "/wallpapers/"+w.ID, nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["id"] != w.ID || resp["uploadState"] != "processing" {
		t.Errorf("unexpected body %v", resp)
	}
}

func TestGetWallpaperNotFound(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/wallpapers/wlpr_missing", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/problem+json") {
		t.Errorf("expected problem+json, got %s", ct)
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t, ratelimit.Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Alive     bool      `json:"alive"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Alive || resp.Timestamp.IsZero() {
		t.Errorf("unexpected liveness body: %+v", resp)
	}
}

func TestReadyEndpoint(t *testing.T) {
	healthy := handlers.Component{Name: "relational", Check: func(context.Context) error { return nil }}
	broken := handlers.Component{Name: "events", Check: func(context.Context) error { return errors.New("down") }}

	t.Run("all healthy", func(t *testing.T) {
		api := newTestAPI(t, ratelimit.Config{}, []handlers.Component{healthy})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("failing component", func(t *testing.T) {
		api := newTestAPI(t, ratelimit.Config{}, []handlers.Component{healthy, broken})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}

		var resp struct {
			Status  string   `json:"status"`
			Failing []string `json:"failing"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if len(resp.Failing) != 1 || resp.Failing[0] != "events" {
			t.Errorf("expected failing [events], got %v", resp.Failing)
		}
	})

	t.Run("shutting down", func(t *testing.T) {
		api := newTestAPI(t, ratelimit.Config{}, []handlers.Component{healthy})
		api.shuttingDown.Store(true)

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		api.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}

		var resp struct {
			Status string `json:"status"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Status != "shutting_down" {
			t.Errorf("expected shutting_down, got %q", resp.Status)
		}
	})
}
