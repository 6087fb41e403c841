package gateway_test

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fivecut/internal/config"
	"fivecut/internal/gateway"
	"fivecut/internal/identity"
	"fivecut/internal/queue"
	"fivecut/internal/services"
	"fivecut/internal/storage"
	"fivecut/internal/testsupport"
)

// staticVerifier resolves fixed tokens for tests.
type staticVerifier struct {
	idents map[string]*identity.Identity
}

func (v *staticVerifier) Verify(_ context.Context, token string) (*identity.Identity, error) {
	if ident, ok := v.idents[token]; ok {
		return ident, nil
	}
	return nil, services.Wrap(services.ErrUnauthorized, "", "verify", "unknown token", nil)
}

func testVerifier() *staticVerifier {
	return &staticVerifier{idents: map[string]*identity.Identity{
		"user-token":  {Subject: "sub-user", Email: "user@example.com"},
		"other-token": {Subject: "sub-other", Email: "other@example.com"},
		"admin-token": {Subject: "sub-admin", Email: "admin@example.com", Admin: true},
	}}
}

// memObjects is an in-memory ObjectStore fake.
type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]string // uploadID -> key, removed on complete/abort
	completed map[string][]storage.CompletedPart
	nextID    int
	deleted   []string
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects:   make(map[string][]byte),
		uploads:   make(map[string]string),
		completed: make(map[string][]storage.CompletedPart),
	}
}

func (m *memObjects) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memObjects) Head(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, services.Wrap(services.ErrNotFound, "", "head", key, nil)
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: "video/mp4", LastModified: time.Now()}, nil
}

func (m *memObjects) GetRange(_ context.Context, key string, start, end int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "", "get", key, nil)
	}
	if start < 0 || end >= int64(len(data)) || start > end {
		return nil, services.Wrap(services.ErrUnsatisfiableRange, "", "get", "bad range", nil)
	}
	return io.NopCloser(strings.NewReader(string(data[start : end+1]))), nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	return out, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration, _ string) (string, error) {
	return "https://signed.example/" + key, nil
}

func (m *memObjects) CreateMultipart(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mpu-%d", m.nextID)
	m.uploads[id] = key
	return id, nil
}

func (m *memObjects) PresignUploadPart(_ context.Context, key, uploadID string, partNumber int32, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploads[uploadID] != key {
		return "", services.Wrap(services.ErrStorage, "", "sign", "unknown upload", nil)
	}
	return fmt.Sprintf("https://signed.example/%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber), nil
}

func (m *memObjects) CompleteMultipart(_ context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploads[uploadID] != key {
		// The backend rejects unknown or already-finalized uploads.
		return services.Wrap(services.ErrStorage, "", "complete", "NoSuchUpload", nil)
	}
	delete(m.uploads, uploadID)
	m.objects[key] = []byte("assembled")
	m.completed[uploadID] = parts
	return nil
}

func (m *memObjects) AbortMultipart(_ context.Context, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	return nil
}

type testGateway struct {
	server  *gateway.Server
	objects *memObjects
	store   *queue.Store
	cfg     *config.Config
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	objects := newMemObjects()
	server := gateway.NewServer(cfg, store, objects, testVerifier(), nil)
	return &testGateway{server: server, objects: objects, store: store, cfg: cfg}
}

// do performs a request against the gateway handler.
func (g *testGateway) do(t *testing.T, method, target, token, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

func mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
