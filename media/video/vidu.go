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

var viduCapabilities = Capabilities{
	Modes:           []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video, ModeReference2Video},
	MaxImages:       7,
	MinDuration:     1,
	MaxDuration:     8,
	DefaultDuration: 5,
}

var viduEndpoints = map[VideoMode]string{
	ModeText2Video:      "/ent/v2/text2video",
	ModeImg2Video:       "/ent/v2/img2video",
	ModeStartEnd2Video:  "/ent/v2/start-end2video",
	ModeReference2Video: "/ent/v2/reference2video",
}

// ViduProvider 实现 Vidu 视频生成.
// Auth: "Authorization: Token <key>"
type ViduProvider struct {
	cfg    ViduConfig
	rest   *restClient
	logger *zap.Logger
}

// NewViduProvider 创建 Vidu 提供者.
func NewViduProvider(cfg ViduConfig, logger *zap.Logger) *ViduProvider {
	def := DefaultViduConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViduProvider{
		cfg:    cfg,
		rest:   &restClient{provider: ProviderVidu, client: tlsutil.SecureHTTPClient(cfg.Timeout)},
		logger: logger.With(zap.String("provider", ProviderVidu)),
	}
}

func (p *ViduProvider) Name() string { return ProviderVidu }

func (p *ViduProvider) Capabilities() Capabilities { return viduCapabilities }

type viduRequest struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt,omitempty"`
	Images            []string `json:"images,omitempty"`
	Duration          int      `json:"duration,omitempty"`
	AspectRatio       string   `json:"aspect_ratio,omitempty"`
	Resolution        string   `json:"resolution,omitempty"`
	Style             string   `json:"style,omitempty"`
	MovementAmplitude string   `json:"movement_amplitude,omitempty"`
	OffPeak           bool     `json:"off_peak,omitempty"`
	Watermark         bool     `json:"watermark,omitempty"`
}

// viduSubmitResponse: success iff 2xx and an id is present.
type viduSubmitResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
	State  string `json:"state"`
}

func (r *viduSubmitResponse) id() string {
	if r.TaskID != "" {
		return r.TaskID
	}
	return r.ID
}

type viduCreation struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	CoverURL string `json:"cover_url"`
}

// viduTaskResponse: success iff 2xx and state is present.
type viduTaskResponse struct {
	ID        string         `json:"id"`
	State     string         `json:"state"`
	ErrCode   string         `json:"err_code"`
	Creations []viduCreation `json:"creations"`
}

func (p *ViduProvider) buildRequest(req *GenerationRequest, mode VideoMode) viduRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := viduRequest{
		Model:             model,
		Prompt:            req.Prompt,
		Duration:          clampDuration(req.Duration, viduCapabilities),
		AspectRatio:       req.AspectRatio,
		Resolution:        req.Resolution,
		Style:             req.Style,
		MovementAmplitude: req.Mode,
		OffPeak:           req.OffPeak,
		Watermark:         req.Watermark,
	}
	switch mode {
	case ModeImg2Video:
		body.Images = req.ReferenceImages[:1]
	case ModeStartEnd2Video:
		body.Images = req.ReferenceImages[:2]
	case ModeReference2Video:
		body.Images = req.ReferenceImages
	}
	// aspect_ratio 仅对文生视频与参考生视频有效
	if mode == ModeImg2Video || mode == ModeStartEnd2Video {
		body.AspectRatio = ""
	}
	return body
}

func (p *ViduProvider) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+p.cfg.APIKey)
	return h
}

// Submit 提交生成任务.
// 终点: POST /ent/v2/{text2video|img2video|start-end2video|reference2video}
func (p *ViduProvider) Submit(ctx context.Context, req *GenerationRequest) (*TaskHandle, error) {
	mode, err := PlanRequest(req, viduCapabilities)
	if err != nil {
		return nil, err
	}
	body := p.buildRequest(req, mode)

	resp, err := p.rest.do(ctx, http.MethodPost, p.cfg.BaseURL+endpointFor(viduEndpoints, mode), body, p.authHeader())
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, vendorError(ProviderVidu, resp)
	}

	var out viduSubmitResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.id() == "" {
		return nil, malformedResponse(ProviderVidu, "submit response has no task id", resp)
	}

	p.logger.Info("vidu task submitted",
		zap.String("task_id", out.id()),
		zap.String("mode", string(mode)),
		zap.Int("duration", body.Duration),
	)
	return &TaskHandle{TaskID: out.id(), Status: StateQueued}, nil
}

// Poll 查询任务状态.
// 终点: GET /ent/v2/tasks/{id}/creations
func (p *ViduProvider) Poll(ctx context.Context, taskID string) (*TaskStatus, error) {
	if taskID == "" {
		return nil, types.NewInvalidRequestError("task id is required")
	}
	endpoint := fmt.Sprintf("%s/ent/v2/tasks/%s/creations", p.cfg.BaseURL, url.PathEscape(taskID))
	resp, err := p.rest.do(ctx, http.MethodGet, endpoint, nil, p.authHeader())
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, vendorError(ProviderVidu, resp)
	}

	var out viduTaskResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.State == "" {
		p.logger.Debug("vidu poll envelope not recognized", zap.String("task_id", taskID))
		return &TaskStatus{TaskID: taskID, State: StateProcessing, Family: ProviderVidu}, nil
	}

	status := &TaskStatus{TaskID: taskID, State: convertViduState(out.State), Family: ProviderVidu}
	switch status.State {
	case StateSucceeded:
		for _, c := range out.Creations {
			if c.URL != "" {
				status.VideoURL = c.URL
				status.ThumbnailURL = c.CoverURL
				break
			}
		}
	case StateFailed:
		status.Error = out.ErrCode
		if status.Error == "" {
			status.Error = "vidu generation failed"
		}
	}
	return status.Normalize(), nil
}

func convertViduState(state string) State {
	switch state {
	case "created", "queueing":
		return StateQueued
	case "success":
		return StateSucceeded
	case "failed":
		return StateFailed
	default:
		return StateProcessing
	}
}
