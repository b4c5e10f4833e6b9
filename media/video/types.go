package video

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/mediaflow/types"
)

// Provider names.
const (
	ProviderVidu     = "vidu"
	ProviderKling    = "kling"
	ProviderSeedance = "seedance"
	ProviderRunway   = "runway"
)

// MaxReferenceImages is the upper bound on images per request.
const MaxReferenceImages = 7

// VideoMode is the generation mode derived for a request.
type VideoMode string

const (
	ModeText2Video      VideoMode = "text2video"
	ModeImg2Video       VideoMode = "img2video"
	ModeStartEnd2Video  VideoMode = "start_end2video"
	ModeReference2Video VideoMode = "reference2video"
)

// Valid reports whether m is a known mode.
func (m VideoMode) Valid() bool {
	switch m {
	case ModeText2Video, ModeImg2Video, ModeStartEnd2Video, ModeReference2Video:
		return true
	}
	return false
}

// State is the normalized task state.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// GenerationRequest is the vendor-agnostic submission input.
type GenerationRequest struct {
	Provider        string   `json:"provider"`
	Prompt          string   `json:"prompt,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"` // URL or data URI
	ReferenceVideo  string   `json:"reference_video,omitempty"`
	Duration        int      `json:"duration,omitempty"` // seconds
	AspectRatio     string   `json:"aspect_ratio,omitempty"`
	Resolution      string   `json:"resolution,omitempty"`
	// VideoMode overrides inference when set.
	VideoMode VideoMode `json:"video_mode,omitempty"`
	// Mode and Style are vendor-specific and passed through untouched.
	Mode        string            `json:"mode,omitempty"`
	Style       string            `json:"style,omitempty"`
	Model       string            `json:"model,omitempty"`
	OffPeak     bool              `json:"off_peak,omitempty"`
	CameraFixed bool              `json:"camera_fixed,omitempty"`
	Watermark   bool              `json:"watermark,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HasPrompt reports whether the prompt has non-space content.
func (r *GenerationRequest) HasPrompt() bool {
	return strings.TrimSpace(r.Prompt) != ""
}

// TaskHandle is returned from a successful submission.
type TaskHandle struct {
	TaskID string `json:"task_id"`
	Status State  `json:"status"`
}

// TaskStatus is the normalized poll result.
type TaskStatus struct {
	TaskID       string `json:"task_id"`
	State        State  `json:"status"`
	VideoURL     string `json:"video_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Error        string `json:"error,omitempty"`
	// Family namespaces relocation keys for vendors whose ids collide
	// across API families (kling vs kling-o1).
	Family string `json:"-"`
}

// Normalize enforces VideoURL != "" iff State == succeeded.
// A vendor "success" without a URL is still in flight from our side.
func (s *TaskStatus) Normalize() *TaskStatus {
	switch {
	case s.State == StateSucceeded && s.VideoURL == "":
		s.State = StateProcessing
	case s.State != StateSucceeded:
		s.VideoURL = ""
	}
	if s.State != StateFailed {
		s.Error = ""
	}
	return s
}

// CacheKey is the relocation cache key for this task.
func (s *TaskStatus) CacheKey(provider string) string {
	family := s.Family
	if family == "" {
		family = provider
	}
	return family + "-" + s.TaskID
}

// Capabilities describes what a vendor accepts.
type Capabilities struct {
	Modes []VideoMode `json:"modes"`
	// SingleImageReference routes (1 image + prompt) to reference mode.
	SingleImageReference bool `json:"single_image_reference"`
	MaxImages            int  `json:"max_images"`
	MinDuration          int  `json:"min_duration"`
	MaxDuration          int  `json:"max_duration"`
	DefaultDuration      int  `json:"default_duration"`
}

// Supports reports whether mode is in c.Modes.
func (c Capabilities) Supports(mode VideoMode) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Provider is a vendor adapter for submit-then-poll generation.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Capabilities returns the vendor's mode table inputs and bounds.
	Capabilities() Capabilities

	// Submit validates, builds and sends a generation job.
	Submit(ctx context.Context, req *GenerationRequest) (*TaskHandle, error)

	// Poll fetches and normalizes the job state.
	Poll(ctx context.Context, taskID string) (*TaskStatus, error)
}

// PlanRequest validates req against caps and returns the mode to use.
// It never touches the network.
func PlanRequest(req *GenerationRequest, caps Capabilities) (VideoMode, error) {
	if req == nil {
		return "", types.NewInvalidRequestError("request is required")
	}
	n := len(req.ReferenceImages)
	if n > MaxReferenceImages {
		return "", types.NewInvalidRequestError(fmt.Sprintf("at most %d reference images are allowed", MaxReferenceImages))
	}
	if caps.MaxImages > 0 && n > caps.MaxImages {
		// 超出部分不能静默丢弃
		return "", types.NewInvalidRequestError(fmt.Sprintf("this provider accepts at most %d reference images", caps.MaxImages))
	}
	for i, img := range req.ReferenceImages {
		if strings.TrimSpace(img) == "" {
			return "", types.NewInvalidRequestError(fmt.Sprintf("reference_images[%d] is empty", i))
		}
	}

	mode := req.VideoMode
	if mode == "" {
		mode = InferMode(n, req.HasPrompt(), caps)
	} else if !mode.Valid() {
		return "", types.NewInvalidRequestError(fmt.Sprintf("unknown video_mode %q", mode))
	} else if !caps.Supports(mode) {
		return "", types.NewInvalidRequestError(fmt.Sprintf("video_mode %q is not supported by this provider", mode))
	}

	if err := requireFields(mode, n, req.HasPrompt()); err != nil {
		return "", err
	}
	return mode, nil
}

func requireFields(mode VideoMode, n int, hasPrompt bool) error {
	switch mode {
	case ModeText2Video:
		if !hasPrompt {
			return types.NewInvalidRequestError("prompt is required for text-to-video")
		}
	case ModeImg2Video:
		if n < 1 {
			return types.NewInvalidRequestError("image-to-video requires one reference image")
		}
	case ModeStartEnd2Video:
		if n < 2 {
			return types.NewInvalidRequestError("first/last-frame mode requires two reference images")
		}
	case ModeReference2Video:
		if n < 1 {
			return types.NewInvalidRequestError("reference mode requires at least one reference image")
		}
		if !hasPrompt {
			return types.NewInvalidRequestError("prompt is required for reference mode")
		}
	}
	return nil
}
