package video

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		resp vendorResponse
		want string
	}{
		{"structured object", vendorResponse{Body: []byte(`{"error":{"message":"m1"},"message":"m2"}`)}, "m1"},
		{"structured msg", vendorResponse{Body: []byte(`{"error":{"msg":"m1"}}`)}, "m1"},
		{"structured string", vendorResponse{Body: []byte(`{"error":"plain"}`)}, "plain"},
		{"top level message", vendorResponse{Body: []byte(`{"message":"m2"}`)}, "m2"},
		{"top level reason", vendorResponse{Body: []byte(`{"reason":"r"}`)}, "r"},
		{"runway failure", vendorResponse{Body: []byte(`{"failure":"f"}`)}, "f"},
		{"raw text", vendorResponse{Body: []byte("  gateway exploded  ")}, "gateway exploded"},
		{"status line", vendorResponse{StatusCode: 504, Status: "504 Gateway Timeout"}, "HTTP 504 Gateway Timeout"},
		{"status code only", vendorResponse{StatusCode: 418}, "HTTP 418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractErrorMessage(&tt.resp))
		})
	}
}

func TestExtractErrorMessage_TruncatesRawBody(t *testing.T) {
	resp := &vendorResponse{Body: []byte(strings.Repeat("x", 2000))}
	got := extractErrorMessage(resp)
	assert.Len(t, got, 515)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRestClient_TruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 声明的长度大于实际写出的字节
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte(`{"task_id":`))
	}))
	defer srv.Close()

	c := &restClient{provider: "vidu", client: srv.Client()}
	_, err := c.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "read vidu response")
}
