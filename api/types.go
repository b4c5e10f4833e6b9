package api

import (
	"time"

	"github.com/BaSui01/mediaflow/media/video"
)

// =============================================================================
// 视频生成类型
// =============================================================================

// GenerationRequest 提交视频生成任务。
// @Description 视频生成请求结构
type GenerationRequest struct {
	// 服务商: vidu, kling, seedance, runway
	Provider string `json:"provider" example:"vidu" binding:"required"`
	// 提示词
	Prompt string `json:"prompt,omitempty" example:"a corgi running on the beach"`
	// 参考图（URL 或 data URI），最多 7 张
	ReferenceImages []string `json:"reference_images,omitempty"`
	// 参考视频
	ReferenceVideo string `json:"reference_video,omitempty"`
	// 时长（秒），超出范围会被收敛到服务商支持的区间
	Duration int `json:"duration,omitempty" example:"5"`
	// 画面比例
	AspectRatio string `json:"aspect_ratio,omitempty" example:"16:9"`
	// 分辨率
	Resolution string `json:"resolution,omitempty" example:"1080p"`
	// 显式指定生成模式，覆盖自动推断
	VideoMode string `json:"video_mode,omitempty" example:"img2video"`
	// 服务商自有的模式/风格参数，原样透传
	Mode  string `json:"mode,omitempty" example:"pro"`
	Style string `json:"style,omitempty"`
	// 模型，为空时使用配置默认值
	Model       string            `json:"model,omitempty"`
	OffPeak     bool              `json:"off_peak,omitempty"`
	CameraFixed bool              `json:"camera_fixed,omitempty"`
	Watermark   bool              `json:"watermark,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ToVideo converts the wire request to the adapter request.
func (r *GenerationRequest) ToVideo() *video.GenerationRequest {
	return &video.GenerationRequest{
		Provider:        r.Provider,
		Prompt:          r.Prompt,
		ReferenceImages: r.ReferenceImages,
		ReferenceVideo:  r.ReferenceVideo,
		Duration:        r.Duration,
		AspectRatio:     r.AspectRatio,
		Resolution:      r.Resolution,
		VideoMode:       video.VideoMode(r.VideoMode),
		Mode:            r.Mode,
		Style:           r.Style,
		Model:           r.Model,
		OffPeak:         r.OffPeak,
		CameraFixed:     r.CameraFixed,
		Watermark:       r.Watermark,
		Metadata:        r.Metadata,
	}
}

// GenerationResponse 是提交成功后的返回。
// @Description 视频生成任务句柄
type GenerationResponse struct {
	Provider string `json:"provider" example:"vidu"`
	TaskID   string `json:"task_id" example:"8f2c..."`
	Status   string `json:"status" example:"queued"`
	// 轮询地址
	PollURL string `json:"poll_url" example:"/api/v1/videos/generations/vidu/8f2c..."`
}

// TaskStatusResponse 是轮询结果。
// @Description 归一化任务状态
type TaskStatusResponse struct {
	Provider     string `json:"provider"`
	TaskID       string `json:"task_id"`
	Status       string `json:"status" example:"succeeded"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NewTaskStatusResponse converts an adapter status.
func NewTaskStatusResponse(provider string, s *video.TaskStatus) TaskStatusResponse {
	return TaskStatusResponse{
		Provider:     provider,
		TaskID:       s.TaskID,
		Status:       string(s.State),
		VideoURL:     s.VideoURL,
		ThumbnailURL: s.ThumbnailURL,
		Error:        s.Error,
	}
}

// ProviderInfo 描述一个已启用的服务商。
type ProviderInfo struct {
	Name                 string   `json:"name"`
	Modes                []string `json:"modes"`
	SingleImageReference bool     `json:"single_image_reference"`
	MaxImages            int      `json:"max_images"`
	MinDuration          int      `json:"min_duration"`
	MaxDuration          int      `json:"max_duration"`
	DefaultDuration      int      `json:"default_duration"`
}

// NewProviderInfo flattens capabilities for the wire.
func NewProviderInfo(name string, caps video.Capabilities) ProviderInfo {
	modes := make([]string, 0, len(caps.Modes))
	for _, m := range caps.Modes {
		modes = append(modes, string(m))
	}
	return ProviderInfo{
		Name:                 name,
		Modes:                modes,
		SingleImageReference: caps.SingleImageReference,
		MaxImages:            caps.MaxImages,
		MinDuration:          caps.MinDuration,
		MaxDuration:          caps.MaxDuration,
		DefaultDuration:      caps.DefaultDuration,
	}
}

// =============================================================================
// 上传类型
// =============================================================================

// PresignRequest 申请直传地址。
// @Description 预签名上传请求
type PresignRequest struct {
	// 文件名，仅用于推断扩展名
	Filename string `json:"filename" example:"ref.png"`
	// MIME 类型，仅允许 image/* 与 video/*
	ContentType string `json:"content_type" example:"image/png" binding:"required"`
	// 文件大小（字节）
	Size int64 `json:"size" example:"204800"`
}

// PresignResponse 预签名结果。
type PresignResponse struct {
	Method    string              `json:"method"`
	UploadURL string              `json:"upload_url"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Key       string              `json:"key"`
	PublicURL string              `json:"public_url"`
	ExpiresAt time.Time           `json:"expires_at"`
	MaxBytes  int64               `json:"max_bytes"`
}
