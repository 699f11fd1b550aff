package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/yk970217-wq/cleanbear/pkg/errors"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 8 << 20

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// AssignHandler 派单接口
type AssignHandler struct {
	service *Service
}

// NewAssignHandler 创建派单接口
func NewAssignHandler(service *Service) *AssignHandler {
	return &AssignHandler{service: service}
}

// Assign POST /api/v1/assign
func (h *AssignHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		appErr := errors.Wrap(err, errors.CodeInvalidInput, "요청 JSON을 해석할 수 없습니다")
		logger.WithContext(r.Context()).Warn().Err(err).Msg("请求解析失败")
		respondJSON(w, appErr.HTTPStatus, errorResponse(0, appErr))
		return
	}

	resp, appErr := h.service.Run(r.Context(), &req)
	if appErr != nil {
		logger.WithContext(r.Context()).Warn().
			Str("code", string(appErr.Code)).
			Str("message", appErr.Message).
			Msg("派单请求被拒绝")
		respondJSON(w, appErr.HTTPStatus, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Register 注册路由
func (h *AssignHandler) Register(mux *http.ServeMux, service string, info BuildInfo) {
	mux.HandleFunc("POST /api/v1/assign", h.Assign)
	mux.HandleFunc("GET /health", Health(service))
	mux.HandleFunc("GET /version", Version(info))
}

// Health 健康检查
func Health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": service})
	}
}

// Pinger 依赖的存活检查
type Pinger interface {
	Health(ctx context.Context) error
}

// Ready 就绪检查，依赖不可用时返回 503
func Ready(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Health(ctx); err != nil {
				logger.WithContext(r.Context()).Warn().Err(err).Str("dependency", name).Msg("就绪检查失败")
				checks[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "up"
		}
		respondJSON(w, status, map[string]interface{}{"ready": status == http.StatusOK, "checks": checks})
	}
}

// Version 版本信息
func Version(info BuildInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, info)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
