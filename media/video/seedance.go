package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/internal/tlsutil"
	"github.com/BaSui01/mediaflow/types"
)

var seedanceCapabilities = Capabilities{
	Modes:           []VideoMode{ModeText2Video, ModeImg2Video, ModeStartEnd2Video, ModeReference2Video},
	MaxImages:       4,
	MinDuration:     3,
	MaxDuration:     12,
	DefaultDuration: 5,
}

// seedanceContent is one item of an Ark content-generation request.
type seedanceContent struct {
	Text     string
	ImageURL string
}

// arkTask is the subset of the Ark task response the adapter reads.
type arkTask struct {
	ID      string `json:"id"`
	Status  string `json:"status"` // queued, running, succeeded, failed, cancelled
	Content struct {
		VideoURL string `json:"video_url"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// arkCreateFunc and arkGetFunc are the SDK calls the adapter depends on.
type (
	arkCreateFunc func(ctx context.Context, model string, content []seedanceContent) (string, error)
	arkGetFunc    func(ctx context.Context, id string) (*arkTask, error)
)

// SeedanceProvider 通过火山方舟 SDK 调用 Seedance 视频生成.
type SeedanceProvider struct {
	cfg    SeedanceConfig
	create arkCreateFunc
	get    arkGetFunc
	logger *zap.Logger
}

// NewSeedanceProvider 创建 Seedance 提供者.
func NewSeedanceProvider(cfg SeedanceConfig, logger *zap.Logger) *SeedanceProvider {
	def := DefaultSeedanceConfig()
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

	// 提交不可重试：SDK 默认会重发创建任务请求
	client := arkruntime.NewClientWithApiKey(
		cfg.APIKey,
		arkruntime.WithBaseUrl(cfg.BaseURL),
		arkruntime.WithRetryTimes(0),
		arkruntime.WithHTTPClient(tlsutil.SecureHTTPClient(cfg.Timeout)),
	)
	p := &SeedanceProvider{cfg: cfg, logger: logger.With(zap.String("provider", ProviderSeedance))}
	p.create = func(ctx context.Context, modelEp string, content []seedanceContent) (string, error) {
		items := make([]*model.CreateContentGenerationContentItem, 0, len(content))
		for _, c := range content {
			if c.ImageURL != "" {
				items = append(items, &model.CreateContentGenerationContentItem{
					Type:     model.ContentGenerationContentItemTypeImage,
					ImageURL: &model.ImageURL{URL: c.ImageURL},
				})
				continue
			}
			items = append(items, &model.CreateContentGenerationContentItem{
				Type: model.ContentGenerationContentItemTypeText,
				Text: volcengine.String(c.Text),
			})
		}
		resp, err := client.CreateContentGenerationTask(ctx, model.CreateContentGenerationTaskRequest{
			Model:   modelEp,
			Content: items,
		})
		if err != nil {
			return "", err
		}
		return resp.ID, nil
	}
	p.get = func(ctx context.Context, id string) (*arkTask, error) {
		req := model.GetContentGenerationTaskRequest{}
		req.ID = id
		resp, err := client.GetContentGenerationTask(ctx, req)
		if err != nil {
			return nil, err
		}
		// 经 JSON 转换，只依赖响应的线上格式
		raw, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("encode seedance task: %w", err)
		}
		var task arkTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("decode seedance task: %w", err)
		}
		return &task, nil
	}
	return p
}

func (p *SeedanceProvider) Name() string { return ProviderSeedance }

func (p *SeedanceProvider) Capabilities() Capabilities { return seedanceCapabilities }

// seedancePrompt appends Ark's inline generation options to the prompt.
func seedancePrompt(req *GenerationRequest, mode VideoMode) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	opt := func(name, value string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("--")
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(value)
	}
	if req.Resolution != "" {
		opt("resolution", req.Resolution)
	}
	opt("duration", strconv.Itoa(clampDuration(req.Duration, seedanceCapabilities)))
	opt("camerafixed", strconv.FormatBool(req.CameraFixed))
	opt("watermark", strconv.FormatBool(req.Watermark))
	// 图生视频默认跟随首帧比例
	if req.AspectRatio != "" {
		opt("ratio", req.AspectRatio)
	} else if mode != ModeText2Video {
		opt("ratio", "adaptive")
	}
	return b.String()
}

func (p *SeedanceProvider) buildContent(req *GenerationRequest, mode VideoMode) []seedanceContent {
	content := []seedanceContent{{Text: seedancePrompt(req, mode)}}
	var images []string
	switch mode {
	case ModeImg2Video:
		images = req.ReferenceImages[:1]
	case ModeStartEnd2Video:
		images = req.ReferenceImages[:2]
	case ModeReference2Video:
		images = req.ReferenceImages
	}
	for _, img := range images {
		content = append(content, seedanceContent{ImageURL: img})
	}
	return content
}

// Submit 创建方舟内容生成任务.
func (p *SeedanceProvider) Submit(ctx context.Context, req *GenerationRequest) (*TaskHandle, error) {
	mode, err := PlanRequest(req, seedanceCapabilities)
	if err != nil {
		return nil, err
	}
	modelEp := req.Model
	if modelEp == "" {
		modelEp = p.cfg.Model
	}

	id, err := p.create(ctx, modelEp, p.buildContent(req, mode))
	if err != nil {
		return nil, p.sdkError("create task", err)
	}
	if id == "" {
		return nil, types.NewError(types.ErrUpstreamError, "seedance: submit response has no task id").
			WithHTTPStatus(http.StatusBadGateway).
			WithProvider(ProviderSeedance)
	}

	p.logger.Info("seedance task submitted", zap.String("task_id", id), zap.String("mode", string(mode)))
	return &TaskHandle{TaskID: id, Status: StateQueued}, nil
}

// Poll 查询方舟任务状态.
func (p *SeedanceProvider) Poll(ctx context.Context, taskID string) (*TaskStatus, error) {
	if taskID == "" {
		return nil, types.NewInvalidRequestError("task id is required")
	}
	task, err := p.get(ctx, taskID)
	if err != nil {
		return nil, p.sdkError("get task", err)
	}

	status := &TaskStatus{TaskID: taskID, State: convertArkStatus(task.Status), Family: ProviderSeedance}
	switch status.State {
	case StateSucceeded:
		status.VideoURL = task.Content.VideoURL
	case StateFailed:
		if task.Error != nil {
			status.Error = task.Error.Message
		}
		if status.Error == "" {
			status.Error = "seedance generation " + task.Status
		}
	}
	return status.Normalize(), nil
}

// sdkError keeps transport failures unwrapped so callers can classify
// them, and reports everything else as an upstream rejection. Vendor 5xx
// and 429 are retryable, matching vendorError.
func (p *SeedanceProvider) sdkError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &ne) {
		return fmt.Errorf("seedance %s failed: %w", op, err)
	}
	status, msg := arkErrorDetail(err)
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("seedance: %s: %s", op, msg)).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(status >= http.StatusInternalServerError || status == http.StatusTooManyRequests).
		WithProvider(ProviderSeedance)
}

// arkErrorDetail returns the vendor HTTP status (0 when unknown) and the
// most specific message the SDK error carries.
func arkErrorDetail(err error) (int, string) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Code
		}
		if msg == "" {
			msg = http.StatusText(apiErr.HTTPStatusCode)
		}
		return apiErr.HTTPStatusCode, msg
	}
	var reqErr *model.RequestError
	if errors.As(err, &reqErr) {
		// 空错误体解码得到 EOF
		if reqErr.Err != nil && !errors.Is(reqErr.Err, io.EOF) {
			return reqErr.HTTPStatusCode, reqErr.Err.Error()
		}
		return reqErr.HTTPStatusCode, fmt.Sprintf("HTTP %d", reqErr.HTTPStatusCode)
	}
	return 0, err.Error()
}

func convertArkStatus(s string) State {
	switch s {
	case "queued":
		return StateQueued
	case "succeeded":
		return StateSucceeded
	case "failed", "cancelled":
		return StateFailed
	default:
		return StateProcessing
	}
}
