package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/api"
	"github.com/BaSui01/mediaflow/media/storage"
)

func TestUploadHandler_Presign(t *testing.T) {
	store := storage.NewMemoryStore("")
	h := NewUploadHandler(store, 1<<20, time.Minute, zap.NewNop())
	h.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign",
		strings.NewReader(`{"filename":"Ref.PNG","content_type":"image/png","size":2048}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandlePresign(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data api.PresignResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, http.MethodPut, resp.Data.Method)
	assert.True(t, strings.HasPrefix(resp.Data.Key, "uploads/2026/03/09/"), resp.Data.Key)
	assert.True(t, strings.HasSuffix(resp.Data.Key, ".png"), resp.Data.Key)
	assert.Equal(t, store.PublicURL(resp.Data.Key), resp.Data.PublicURL)
	assert.Equal(t, int64(1<<20), resp.Data.MaxBytes)
}

func TestUploadHandler_Validation(t *testing.T) {
	h := NewUploadHandler(storage.NewMemoryStore(""), 1024, time.Minute, zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{"not media", `{"filename":"a.exe","content_type":"application/octet-stream","size":10}`},
		{"bad mime", `{"filename":"a.png","content_type":";;","size":10}`},
		{"zero size", `{"filename":"a.png","content_type":"image/png","size":0}`},
		{"too large", `{"filename":"a.png","content_type":"image/png","size":4096}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.HandlePresign(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
		})
	}
}

func TestUploadExt(t *testing.T) {
	tests := []struct {
		filename, mediaType, want string
	}{
		{"photo.JPG", "image/jpeg", "jpg"},
		{"", "image/jpeg", "jpg"},
		{"clip", "video/quicktime", "mov"},
		{"x.webp", "image/webp", "webp"},
		{"weird.p/ng", "image/png", "png"},
		{"", "image/svg+xml", "bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, uploadExt(tt.filename, tt.mediaType), "%s %s", tt.filename, tt.mediaType)
	}
}

func TestUploadKey(t *testing.T) {
	at := time.Date(2026, 1, 2, 23, 0, 0, 0, time.FixedZone("x", -3*3600))
	assert.Equal(t, "uploads/2026/01/03/id.png", UploadKey(at, "id", "png"))
}
