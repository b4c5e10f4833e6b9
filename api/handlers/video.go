package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/api"
	"github.com/BaSui01/mediaflow/internal/ctxkeys"
	"github.com/BaSui01/mediaflow/media/orchestrator"
	"github.com/BaSui01/mediaflow/media/video"
)

// =============================================================================
// 🎬 视频生成 Handler
// =============================================================================

// VideoService 是 Handler 依赖的编排能力
type VideoService interface {
	Submit(ctx context.Context, req *video.GenerationRequest) (*video.TaskHandle, error)
	Poll(ctx context.Context, provider, taskID string) (*video.TaskStatus, error)
	Providers() []orchestrator.ProviderInfo
}

// VideoHandler 视频生成接口处理器
type VideoHandler struct {
	service VideoService
	logger  *zap.Logger
}

// NewVideoHandler 创建视频生成处理器
func NewVideoHandler(service VideoService, logger *zap.Logger) *VideoHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VideoHandler{
		service: service,
		logger:  logger.With(zap.String("handler", "video")),
	}
}

// HandleSubmit 处理视频生成提交
// @Summary 提交视频生成任务
// @Description 按服务商能力推断模式并提交任务，返回任务 ID
// @Tags 视频
// @Accept json
// @Produce json
// @Param request body api.GenerationRequest true "生成请求"
// @Success 202 {object} api.GenerationResponse "任务句柄"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "服务商错误"
// @Failure 504 {object} Response "提交超时"
// @Security ApiKeyAuth
// @Router /api/v1/videos/generations [post]
func (h *VideoHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.GenerationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ctx := ctxkeys.WithProvider(r.Context(), req.Provider)
	start := time.Now()
	handle, err := h.service.Submit(ctx, req.ToVideo())
	if err != nil {
		WriteAnyError(ctx, w, err, h.logger)
		return
	}

	h.logger.Info("generation submitted",
		zap.String("provider", req.Provider),
		zap.String("task_id", handle.TaskID),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccessCtx(ctx, w, http.StatusAccepted, api.GenerationResponse{
		Provider: req.Provider,
		TaskID:   handle.TaskID,
		Status:   string(handle.Status),
		PollURL:  "/api/v1/videos/generations/" + url.PathEscape(req.Provider) + "/" + url.PathEscape(handle.TaskID),
	})
}

// HandlePoll 处理任务轮询
// @Summary 查询视频生成任务
// @Description 返回归一化状态；成功时 video_url 指向自有存储
// @Tags 视频
// @Produce json
// @Param provider path string true "服务商"
// @Param taskId path string true "任务 ID"
// @Success 200 {object} api.TaskStatusResponse "任务状态"
// @Failure 400 {object} Response "无效请求"
// @Failure 403 {object} Response "资源域名不在白名单"
// @Failure 503 {object} Response "资源下载失败"
// @Security ApiKeyAuth
// @Router /api/v1/videos/generations/{provider}/{taskId} [get]
func (h *VideoHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	taskID := r.PathValue("taskId")

	ctx := ctxkeys.WithProvider(r.Context(), provider)
	status, err := h.service.Poll(ctx, provider, taskID)
	if err != nil {
		WriteAnyError(ctx, w, err, h.logger)
		return
	}

	// 处理中的状态不应被中间缓存
	w.Header().Set("Cache-Control", "no-store")
	WriteSuccessCtx(ctx, w, http.StatusOK, api.NewTaskStatusResponse(provider, status))
}

// HandleProviders 列出已启用的服务商及其能力
// @Summary 服务商列表
// @Tags 视频
// @Produce json
// @Success 200 {array} api.ProviderInfo "服务商"
// @Security ApiKeyAuth
// @Router /api/v1/videos/providers [get]
func (h *VideoHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	infos := h.service.Providers()
	out := make([]api.ProviderInfo, 0, len(infos))
	for _, p := range infos {
		out = append(out, api.NewProviderInfo(p.Name, p.Capabilities))
	}
	WriteSuccessCtx(r.Context(), w, http.StatusOK, out)
}
