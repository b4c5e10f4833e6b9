package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/types"
)

const runwayAPIVersion = "2024-11-06"

var runwayCapabilities = Capabilities{
	Modes:           []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video},
	MaxImages:       2,
	MinDuration:     2,
	MaxDuration:     10,
	DefaultDuration: 5,
}

var runwayEndpoints = map[VideoMode]string{
	ModeText2Video:     "/v1/text_to_video",
	ModeImg2Video:      "/v1/image_to_video",
	ModeStartEnd2Video: "/v1/image_to_video",
}

// RunwayProvider 使用 Runway Gen-4 生成视频.
// API 文件: https://docs.dev.runwayml.com/api/
type RunwayProvider struct {
	cfg    RunwayConfig
	rest   *restClient
	logger *zap.Logger
}

// NewRunwayProvider 创建 Runway 提供者.
func NewRunwayProvider(cfg RunwayConfig, logger *zap.Logger) *RunwayProvider {
	def := DefaultRunwayConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		// 可用: gen4_turbo, gen3a_turbo, veo3
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunwayProvider{
		cfg:    cfg,
		rest:   &restClient{provider: ProviderRunway, client: tlsutil.SecureHTTPClient(cfg.Timeout)},
		logger: logger.With(zap.String("provider", ProviderRunway)),
	}
}

func (p *RunwayProvider) Name() string { return ProviderRunway }

func (p *RunwayProvider) Capabilities() Capabilities { return runwayCapabilities }

type runwayPromptImage struct {
	URI      string `json:"uri"`
	Position string `json:"position"` // first, last
}

type runwayRequest struct {
	Model       string              `json:"model"`
	PromptText  string              `json:"promptText,omitempty"`
	PromptImage []runwayPromptImage `json:"promptImage,omitempty"` // HTTPS URL or data URI
	Ratio       string              `json:"ratio,omitempty"`
	Duration    int                 `json:"duration,omitempty"`
	Watermark   bool                `json:"watermark,omitempty"`
}

type runwayResponse struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"` // PENDING, THROTTLED, RUNNING, SUCCEEDED, FAILED, CANCELLED
	Output      []string `json:"output,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	Failure     string   `json:"failure,omitempty"`
	FailureCode string   `json:"failureCode,omitempty"`
}

// runwayRatio 转换宽高比格式.
func runwayRatio(aspect string) string {
	switch aspect {
	case "", "16:9":
		return "1280:720"
	case "9:16":
		return "720:1280"
	case "1:1":
		return "960:960"
	default:
		return aspect
	}
}

func (p *RunwayProvider) buildRequest(req *GenerationRequest, mode VideoMode) runwayRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := runwayRequest{
		Model:      model,
		PromptText: req.Prompt,
		Ratio:      runwayRatio(req.AspectRatio),
		Duration:   clampDuration(req.Duration, runwayCapabilities),
		Watermark:  req.Watermark,
	}
	switch mode {
	case ModeImg2Video:
		body.PromptImage = []runwayPromptImage{{URI: req.ReferenceImages[0], Position: "first"}}
	case ModeStartEnd2Video:
		body.PromptImage = []runwayPromptImage{
			{URI: req.ReferenceImages[0], Position: "first"},
			{URI: req.ReferenceImages[1], Position: "last"},
		}
	}
	return body
}

func (p *RunwayProvider) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.cfg.APIKey)
	h.Set("X-Runway-Version", runwayAPIVersion)
	return h
}

// Submit 提交生成任务.
// 终点: POST /v1/text_to_video 或 /v1/image_to_video
// Auth: Bearer 令牌 + X-Runway-Version 信头
func (p *RunwayProvider) Submit(ctx context.Context, req *GenerationRequest) (*TaskHandle, error) {
	mode, err := PlanRequest(req, runwayCapabilities)
	if err != nil {
		return nil, err
	}
	body := p.buildRequest(req, mode)

	resp, err := p.rest.do(ctx, http.MethodPost, p.cfg.BaseURL+endpointFor(runwayEndpoints, mode), body, p.authHeader())
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, vendorError(ProviderRunway, resp)
	}

	var out runwayResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.ID == "" {
		return nil, malformedResponse(ProviderRunway, "submit response has no task id", resp)
	}

	p.logger.Info("runway task submitted",
		zap.String("task_id", out.ID),
		zap.String("mode", string(mode)),
		zap.Int("duration", body.Duration),
	)
	return &TaskHandle{TaskID: out.ID, Status: StateQueued}, nil
}

// Poll 查询任务状态.
// 终点: GET /v1/tasks/{id}
func (p *RunwayProvider) Poll(ctx context.Context, taskID string) (*TaskStatus, error) {
	if taskID == "" {
		return nil, types.NewInvalidRequestError("task id is required")
	}
	endpoint := fmt.Sprintf("%s/v1/tasks/%s", p.cfg.BaseURL, url.PathEscape(taskID))
	resp, err := p.rest.do(ctx, http.MethodGet, endpoint, nil, p.authHeader())
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, vendorError(ProviderRunway, resp)
	}

	var out runwayResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.Status == "" {
		return &TaskStatus{TaskID: taskID, State: StateProcessing, Family: ProviderRunway}, nil
	}

	status := &TaskStatus{TaskID: taskID, State: convertRunwayStatus(out.Status), Family: ProviderRunway}
	switch status.State {
	case StateSucceeded:
		for _, u := range out.Output {
			if u != "" {
				status.VideoURL = u
				break
			}
		}
	case StateFailed:
		status.Error = out.Failure
		if status.Error == "" {
			status.Error = out.FailureCode
		}
		if status.Error == "" {
			status.Error = "runway generation failed"
		}
	}
	return status.Normalize(), nil
}

func convertRunwayStatus(s string) State {
	switch s {
	case "PENDING", "THROTTLED":
		return StateQueued
	case "SUCCEEDED":
		return StateSucceeded
	case "FAILED", "CANCELLED":
		return StateFailed
	default:
		return StateProcessing
	}
}
