package handler

import (
	"net/http"
	"time"

	"pai-tutor-go/internal/middleware"
	"pai-tutor-go/internal/repository"
	"pai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// StatusHandler 提供 AI 服务状态与使用统计接口。
type StatusHandler struct {
	newBackend BackendFactory
	statusRepo repository.StatusRepository
	eventRepo  repository.EventRepository
	cacheTTL   time.Duration
}

// NewStatusHandler 创建 StatusHandler。statusRepo 与 eventRepo 都可以为 nil。
func NewStatusHandler(newBackend BackendFactory, statusRepo repository.StatusRepository, eventRepo repository.EventRepository, cacheTTL time.Duration) *StatusHandler {
	return &StatusHandler{
		newBackend: newBackend,
		statusRepo: statusRepo,
		eventRepo:  eventRepo,
		cacheTTL:   cacheTTL,
	}
}

// GetStatus 返回 AI 服务的提示性状态。配额以 /users/me 为准，这里的结果只用于展示。
func (h *StatusHandler) GetStatus(c *gin.Context) {
	claims, tokenString, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未登录"})
		return
	}
	ctx := c.Request.Context()

	if h.statusRepo != nil {
		cached, err := h.statusRepo.Get(ctx, claims.UserID)
		if err != nil {
			log.Warnf("读取 AI 状态缓存失败: %v", err)
		} else if cached != nil {
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": cached})
			return
		}
	}

	status, err := h.newBackend(tokenString).GetStatus(ctx)
	if err != nil {
		log.Warnf("查询 AI 状态失败: user=%s, err=%v", claims.Username, err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": noticeCopy[noticeBackendUnavailable]})
		return
	}

	if h.statusRepo != nil {
		if err := h.statusRepo.Set(ctx, claims.UserID, status, h.cacheTTL); err != nil {
			log.Warnf("写入 AI 状态缓存失败: %v", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": status})
}

// GetUsage 返回当前用户按类型统计的辅导事件数。
func (h *StatusHandler) GetUsage(c *gin.Context) {
	claims, _, ok := middleware.Claims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未登录"})
		return
	}
	if h.eventRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "未启用使用统计"})
		return
	}

	counts, err := h.eventRepo.CountByType(c.Request.Context(), claims.UserID)
	if err != nil {
		log.Errorf("统计使用事件失败: user=%s, err=%v", claims.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "统计失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": counts})
}
