package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/mediaflow/types"
)

// maxVendorBody caps how much of a vendor JSON response is read.
const maxVendorBody = 4 << 20

// vendorResponse is one buffered vendor exchange.
type vendorResponse struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (r *vendorResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// restClient sends JSON requests to one vendor.
type restClient struct {
	provider string
	client   *http.Client
}

func (c *restClient) do(ctx context.Context, method, url string, payload any, header http.Header) (*vendorResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVendorBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.provider, err)
	}
	return &vendorResponse{StatusCode: resp.StatusCode, Status: resp.Status, Body: raw}, nil
}

// messageExtractors are tried in order; the first non-empty result wins.
var messageExtractors = []func(*vendorResponse) string{
	structuredErrorMessage,
	topLevelMessage,
	rawBodyText,
	statusLine,
}

// extractErrorMessage returns the best human-readable vendor error.
func extractErrorMessage(resp *vendorResponse) string {
	for _, extract := range messageExtractors {
		if msg := strings.TrimSpace(extract(resp)); msg != "" {
			return msg
		}
	}
	return ""
}

// structuredErrorMessage reads {"error": {"message": ...}} or {"error": "..."}.
func structuredErrorMessage(resp *vendorResponse) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(resp.Body, &env) != nil || len(env.Error) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Code    any    `json:"code"`
	}
	if json.Unmarshal(env.Error, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Msg
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil {
		return s
	}
	return ""
}

func topLevelMessage(resp *vendorResponse) string {
	var env struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Reason  string `json:"reason"`
		Failure string `json:"failure"`
	}
	if json.Unmarshal(resp.Body, &env) != nil {
		return ""
	}
	for _, m := range []string{env.Message, env.Msg, env.Reason, env.Failure} {
		if m != "" {
			return m
		}
	}
	return ""
}

func rawBodyText(resp *vendorResponse) string {
	s := strings.TrimSpace(string(resp.Body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

func statusLine(resp *vendorResponse) string {
	if resp.Status != "" {
		return "HTTP " + resp.Status
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// vendorError builds the caller-facing error for a failed exchange.
// 5xx and 429 are marked retryable so polling can absorb them.
func vendorError(provider string, resp *vendorResponse) *types.Error {
	msg := extractErrorMessage(resp)
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s: %s", provider, msg)).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests).
		WithProvider(provider)
}

// malformedResponse reports a 2xx body that failed the vendor discriminator.
func malformedResponse(provider, what string, resp *vendorResponse) *types.Error {
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s: %s: %s", provider, what, extractErrorMessage(resp))).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider)
}
