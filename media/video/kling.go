package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/types"
)

// FamilyKlingO1 namespaces omni-video task ids, which share an id space
// with the classic endpoints.
const FamilyKlingO1 = "kling-o1"

var klingCapabilities = Capabilities{
	Modes:                []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video, ModeReference2Video},
	SingleImageReference: false,
	MaxImages:            4,
	MinDuration:          5,
	MaxDuration:          10,
	DefaultDuration:      5,
}

const (
	klingText2Video       = "/v1/videos/text2video"
	klingImage2Video      = "/v1/videos/image2video"
	klingMultiImage2Video = "/v1/videos/multi-image2video"
	klingOmniVideo        = "/v1/videos/omni-video"
)

var klingEndpoints = map[VideoMode]string{
	ModeText2Video:      klingText2Video,
	ModeImg2Video:       klingImage2Video,
	ModeStartEnd2Video:  klingImage2Video,
	ModeReference2Video: klingMultiImage2Video,
}

// klingPollRoute is one candidate poll endpoint and the family it implies.
type klingPollRoute struct {
	path   string
	family string
}

// klingPollRoutes are tried in order; task lookups are partitioned by the
// endpoint the task was created on.
var klingPollRoutes = []klingPollRoute{
	{klingText2Video, ProviderKling},
	{klingImage2Video, ProviderKling},
	{klingMultiImage2Video, ProviderKling},
	{klingOmniVideo, FamilyKlingO1},
}

// KlingProvider 实现可灵视频生成.
type KlingProvider struct {
	cfg    KlingConfig
	rest   *restClient
	logger *zap.Logger
	now    func() time.Time
}

// NewKlingProvider 创建可灵提供者.
func NewKlingProvider(cfg KlingConfig, logger *zap.Logger) *KlingProvider {
	def := DefaultKlingConfig()
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
	return &KlingProvider{
		cfg:    cfg,
		rest:   &restClient{provider: ProviderKling, client: tlsutil.SecureHTTPClient(cfg.Timeout)},
		logger: logger.With(zap.String("provider", ProviderKling)),
		now:    time.Now,
	}
}

func (p *KlingProvider) Name() string { return ProviderKling }

func (p *KlingProvider) Capabilities() Capabilities { return klingCapabilities }

type klingImage struct {
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type klingRequest struct {
	ModelName   string       `json:"model_name,omitempty"`
	Prompt      string       `json:"prompt,omitempty"`
	Image       string       `json:"image,omitempty"`
	ImageTail   string       `json:"image_tail,omitempty"`
	ImageList   []klingImage `json:"image_list,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Duration    string       `json:"duration,omitempty"`
	AspectRatio string       `json:"aspect_ratio,omitempty"`
}

type klingVideo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}

type klingTaskData struct {
	TaskID        string `json:"task_id"`
	TaskStatus    string `json:"task_status"`
	TaskStatusMsg string `json:"task_status_msg"`
	TaskResult    *struct {
		Videos []klingVideo `json:"videos"`
	} `json:"task_result,omitempty"`
}

// klingEnvelope: success iff code == 0 and data carries a task id.
type klingEnvelope struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Data      *klingTaskData `json:"data"`
}

func (e *klingEnvelope) ok() bool {
	return e.Code == 0 && e.Data != nil && e.Data.TaskID != ""
}

// token 签发 HS256 JWT: iss=AccessKey, 30 分钟有效, nbf 提前 5 秒容忍时钟偏差.
func (p *KlingProvider) token() (string, error) {
	now := p.now()
	claims := jwt.MapClaims{
		"iss": p.cfg.AccessKey,
		"exp": now.Add(30 * time.Minute).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign kling token: %w", err)
	}
	return signed, nil
}

func (p *KlingProvider) authHeader() (http.Header, error) {
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	return h, nil
}

// isOmniModel reports whether model is served by the omni-video endpoint.
func isOmniModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "kling-o1") || strings.HasPrefix(m, "kling-video-o1")
}

// klingDuration snaps to the two durations the API accepts.
func klingDuration(d int) string {
	if clampDuration(d, klingCapabilities) < 8 {
		return "5"
	}
	return "10"
}

// klingImageValue strips a data URI header; the API wants bare base64 or a URL.
func klingImageValue(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		if i := strings.Index(ref, ","); i >= 0 {
			return ref[i+1:]
		}
	}
	return ref
}

func (p *KlingProvider) buildRequest(req *GenerationRequest, mode VideoMode, omni bool) klingRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	body := klingRequest{
		ModelName:   model,
		Prompt:      req.Prompt,
		Mode:        req.Mode,
		Duration:    klingDuration(req.Duration),
		AspectRatio: req.AspectRatio,
	}
	if omni {
		for _, img := range req.ReferenceImages {
			body.ImageList = append(body.ImageList, klingImage{ImageURL: img})
		}
		return body
	}
	switch mode {
	case ModeImg2Video:
		body.Image = klingImageValue(req.ReferenceImages[0])
		body.AspectRatio = ""
	case ModeStartEnd2Video:
		body.Image = klingImageValue(req.ReferenceImages[0])
		body.ImageTail = klingImageValue(req.ReferenceImages[1])
		body.AspectRatio = ""
	case ModeReference2Video:
		for _, img := range req.ReferenceImages {
			body.ImageList = append(body.ImageList, klingImage{Image: klingImageValue(img)})
		}
	}
	return body
}

// Submit 提交生成任务.
// 终点: POST /v1/videos/{text2video|image2video|multi-image2video|omni-video}
func (p *KlingProvider) Submit(ctx context.Context, req *GenerationRequest) (*TaskHandle, error) {
	mode, err := PlanRequest(req, klingCapabilities)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	omni := isOmniModel(model)
	endpoint := endpointFor(klingEndpoints, mode)
	if omni {
		endpoint = klingOmniVideo
	}

	header, err := p.authHeader()
	if err != nil {
		return nil, err
	}
	resp, err := p.rest.do(ctx, http.MethodPost, p.cfg.BaseURL+endpoint, p.buildRequest(req, mode, omni), header)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, vendorError(ProviderKling, resp)
	}

	var env klingEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil || !env.ok() {
		return nil, malformedResponse(ProviderKling, "submit rejected", resp)
	}

	p.logger.Info("kling task submitted",
		zap.String("task_id", env.Data.TaskID),
		zap.String("endpoint", endpoint),
		zap.String("request_id", env.RequestID),
	)
	return &TaskHandle{TaskID: env.Data.TaskID, Status: StateQueued}, nil
}

// Poll 依次探测各端点，接受第一个 code == 0 的响应；全部失败视为 processing.
func (p *KlingProvider) Poll(ctx context.Context, taskID string) (*TaskStatus, error) {
	if taskID == "" {
		return nil, types.NewInvalidRequestError("task id is required")
	}
	header, err := p.authHeader()
	if err != nil {
		return nil, err
	}

	for _, route := range klingPollRoutes {
		endpoint := p.cfg.BaseURL + route.path + "/" + url.PathEscape(taskID)
		resp, err := p.rest.do(ctx, http.MethodGet, endpoint, nil, header)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Debug("kling poll route failed", zap.String("endpoint", route.path), zap.Error(err))
			continue
		}
		if !resp.ok() {
			continue
		}
		var env klingEnvelope
		if json.Unmarshal(resp.Body, &env) != nil || !env.ok() {
			continue
		}
		return p.toStatus(taskID, route.family, env.Data), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug("no kling poll route answered", zap.String("task_id", taskID))
	return &TaskStatus{TaskID: taskID, State: StateProcessing, Family: ProviderKling}, nil
}

func (p *KlingProvider) toStatus(taskID, family string, data *klingTaskData) *TaskStatus {
	status := &TaskStatus{TaskID: taskID, State: convertKlingStatus(data.TaskStatus), Family: family}
	switch status.State {
	case StateSucceeded:
		if data.TaskResult != nil {
			for _, v := range data.TaskResult.Videos {
				if v.URL != "" {
					status.VideoURL = v.URL
					break
				}
			}
		}
	case StateFailed:
		status.Error = data.TaskStatusMsg
		if status.Error == "" {
			status.Error = "kling generation failed"
		}
	}
	return status.Normalize()
}

func convertKlingStatus(s string) State {
	switch s {
	case "submitted":
		return StateQueued
	case "succeed":
		return StateSucceeded
	case "failed":
		return StateFailed
	default:
		return StateProcessing
	}
}
