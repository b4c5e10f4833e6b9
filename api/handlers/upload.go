package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/mediaflow/api"
	"github.com/BaSui01/mediaflow/media/storage"
	"github.com/BaSui01/mediaflow/types"
)

// =============================================================================
// 📤 预签名上传 Handler
// =============================================================================

// UploadHandler 为参考图 / 参考视频签发直传地址
type UploadHandler struct {
	presigner storage.Presigner
	maxBytes  int64
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(presigner storage.Presigner, maxBytes int64, ttl time.Duration, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &UploadHandler{
		presigner: presigner,
		maxBytes:  maxBytes,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.With(zap.String("handler", "upload")),
	}
}

// HandlePresign 签发预签名上传地址
// @Summary 预签名上传
// @Description 返回对象存储直传地址，上传完成后可作为 reference_images 使用
// @Tags 上传
// @Accept json
// @Produce json
// @Param request body api.PresignRequest true "上传请求"
// @Success 200 {object} api.PresignResponse "直传地址"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /api/v1/uploads/presign [post]
func (h *UploadHandler) HandlePresign(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.PresignRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	ext, err := h.validate(&req)
	if err != nil {
		WriteAnyError(r.Context(), w, err, h.logger)
		return
	}

	key := UploadKey(h.now(), uuid.NewString(), ext)
	up, err := h.presigner.Presign(r.Context(), key, h.ttl, req.ContentType)
	if err != nil {
		WriteAnyError(r.Context(), w, err, h.logger)
		return
	}

	WriteSuccessCtx(r.Context(), w, http.StatusOK, api.PresignResponse{
		Method:    up.Method,
		UploadURL: up.UploadURL,
		Headers:   up.Headers,
		Key:       up.Key,
		PublicURL: up.PublicURL,
		ExpiresAt: up.ExpiresAt,
		MaxBytes:  h.maxBytes,
	})
}

func (h *UploadHandler) validate(req *api.PresignRequest) (string, error) {
	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil {
		return "", types.NewInvalidRequestError("content_type is invalid")
	}
	if !strings.HasPrefix(mediaType, "image/") && !strings.HasPrefix(mediaType, "video/") {
		return "", types.NewInvalidRequestError("only image/* and video/* uploads are allowed")
	}
	if req.Size <= 0 {
		return "", types.NewInvalidRequestError("size must be positive")
	}
	if h.maxBytes > 0 && req.Size > h.maxBytes {
		return "", types.NewInvalidRequestError(fmt.Sprintf("size exceeds the %d byte limit", h.maxBytes))
	}
	return uploadExt(req.Filename, mediaType), nil
}

// uploadExt 优先使用文件名扩展名，否则按 MIME 推断
func uploadExt(filename, mediaType string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext != "" && len(ext) <= 5 && isAlnum(ext) {
		return ext
	}
	sub := mediaType[strings.IndexByte(mediaType, '/')+1:]
	switch sub {
	case "jpeg":
		return "jpg"
	case "quicktime":
		return "mov"
	}
	if isAlnum(sub) && len(sub) <= 5 {
		return sub
	}
	return "bin"
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}

// UploadKey builds uploads/<yyyy>/<mm>/<dd>/<id>.<ext>.
func UploadKey(now time.Time, id, ext string) string {
	return fmt.Sprintf("uploads/%s/%s.%s", now.UTC().Format("2006/01/02"), id, ext)
}
