package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/ctxkeys"
	"github.com/BaSui01/mediaflow/media/orchestrator"
	"github.com/BaSui01/mediaflow/media/video"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type fakeVideoService struct {
	submitted *video.GenerationRequest
	provider  string
	submitErr error
	status    *video.TaskStatus
	pollErr   error
}

func (f *fakeVideoService) Submit(ctx context.Context, req *video.GenerationRequest) (*video.TaskHandle, error) {
	f.submitted = req
	f.provider, _ = ctxkeys.Provider(ctx)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &video.TaskHandle{TaskID: "task/1", Status: video.StateQueued}, nil
}

func (f *fakeVideoService) Poll(_ context.Context, provider, taskID string) (*video.TaskStatus, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	st := *f.status
	st.TaskID = taskID
	return &st, nil
}

func (f *fakeVideoService) Providers() []orchestrator.ProviderInfo {
	return []orchestrator.ProviderInfo{{
		Name: video.ProviderRunway,
		Capabilities: video.Capabilities{
			Modes:     []video.VideoMode{video.ModeText2Video, video.ModeImg2Video},
			MaxImages: 2,
		},
	}}
}

func videoMux(svc VideoService) *http.ServeMux {
	h := NewVideoHandler(svc, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/videos/generations", h.HandleSubmit)
	mux.HandleFunc("GET /api/v1/videos/generations/{provider}/{taskId}", h.HandlePoll)
	mux.HandleFunc("GET /api/v1/videos/providers", h.HandleProviders)
	return mux
}

func decodeResponse(t *testing.T, body *strings.Reader) (Response, map[string]any) {
	t.Helper()
	var raw struct {
		Response
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&raw))
	return raw.Response, raw.Data
}

// =============================================================================
// 🧪 提交
// =============================================================================

func TestVideoHandler_Submit(t *testing.T) {
	svc := &fakeVideoService{}
	body := `{"provider":"vidu","prompt":"a cat","reference_images":["https://img/1.png"],"duration":20,"video_mode":"img2video"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/generations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	videoMux(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp, data := decodeResponse(t, strings.NewReader(w.Body.String()))
	assert.True(t, resp.Success)
	assert.Equal(t, "task/1", data["task_id"])
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "/api/v1/videos/generations/vidu/task%2F1", data["poll_url"])

	require.NotNil(t, svc.submitted)
	assert.Equal(t, video.ModeImg2Video, svc.submitted.VideoMode)
	assert.Equal(t, 20, svc.submitted.Duration)
	assert.Equal(t, "vidu", svc.provider)
}

func TestVideoHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		svcErr      error
		status      int
		code        string
	}{
		{"wrong content type", "text/plain", `{}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown field", "application/json", `{"provider":"vidu","foo":1}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unsupported provider", "application/json", `{"provider":"sora","prompt":"x"}`,
			types.NewError(types.ErrUnsupportedProvider, "unsupported provider \"sora\"").WithHTTPStatus(http.StatusBadRequest),
			http.StatusBadRequest, "UNSUPPORTED_PROVIDER"},
		{"timeout", "application/json", `{"provider":"kling","prompt":"x"}`,
			types.NewError(types.ErrUpstreamTimeout, "request timed out").WithHTTPStatus(http.StatusGatewayTimeout),
			http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeVideoService{submitErr: tt.svcErr}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/generations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()

			videoMux(svc).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

// =============================================================================
// 🧪 轮询
// =============================================================================

func TestVideoHandler_Poll(t *testing.T) {
	svc := &fakeVideoService{status: &video.TaskStatus{
		State:    video.StateSucceeded,
		VideoURL: "https://storage.mediaflow.local/generated/kling/kling-abc/1.mp4",
	}}
	w := httptest.NewRecorder()
	videoMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos/generations/kling/abc", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	_, data := decodeResponse(t, strings.NewReader(w.Body.String()))
	assert.Equal(t, "kling", data["provider"])
	assert.Equal(t, "abc", data["task_id"])
	assert.Equal(t, "succeeded", data["status"])
	assert.Equal(t, svc.status.VideoURL, data["video_url"])
}

func TestVideoHandler_PollHostNotAllowed(t *testing.T) {
	svc := &fakeVideoService{pollErr: types.NewHostNotAllowedError("evil.example.com")}
	w := httptest.NewRecorder()
	videoMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos/generations/vidu/t1", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "HOST_NOT_ALLOWED")
}

func TestVideoHandler_Providers(t *testing.T) {
	w := httptest.NewRecorder()
	videoMux(&fakeVideoService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/videos/providers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []struct {
			Name      string   `json:"name"`
			Modes     []string `json:"modes"`
			MaxImages int      `json:"max_images"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "runway", resp.Data[0].Name)
	assert.Equal(t, []string{"text2video", "img2video"}, resp.Data[0].Modes)
	assert.Equal(t, 2, resp.Data[0].MaxImages)
}
