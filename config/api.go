// config 包的运行期配置 HTTP 接口：查看、批量修改、从文件重载、回滚与变更记录。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BaSui01/hivetrain/api"
)

// maxUpdateBody PUT /v1/config 请求体上限
const maxUpdateBody = 64 << 10

// ConfigAPIHandler 把 HotReloadManager 暴露为 /v1/config 系列接口。
// 认证与 CORS 由外层中间件负责。
type ConfigAPIHandler struct {
	manager *HotReloadManager
}

// ConfigView GET /v1/config 的响应
type ConfigView struct {
	Version int            `json:"version"`
	Config  map[string]any `json:"config"`
}

// FieldInfo 一个已登记字段的描述
type FieldInfo struct {
	Path            string `json:"path"`
	Description     string `json:"description"`
	HotReloadable   bool   `json:"hot_reloadable"`
	RequiresRestart bool   `json:"requires_restart"`
	Sensitive       bool   `json:"sensitive"`
	// 敏感字段不返回当前值
	CurrentValue any `json:"current_value,omitempty"`
}

// ConfigUpdateRequest PUT /v1/config 的请求体，所有字段作为一次变更应用
type ConfigUpdateRequest struct {
	Updates map[string]any `json:"updates"`
}

// UpdateResult 修改、重载或回滚后的结果
type UpdateResult struct {
	Version int `json:"version"`
	// 立即生效的字段
	Applied []string `json:"applied,omitempty"`
	// 已写入配置、重启后才生效的字段
	PendingRestart []string `json:"pending_restart,omitempty"`
}

// NewConfigAPIHandler 创建配置接口处理器
func NewConfigAPIHandler(manager *HotReloadManager) *ConfigAPIHandler {
	return &ConfigAPIHandler{manager: manager}
}

// RegisterRoutes 注册路由；wrap 通常是管理接口认证中间件，可为 nil
func (h *ConfigAPIHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	routes := map[string]http.HandlerFunc{
		"GET /v1/config":           h.HandleGetConfig,
		"PUT /v1/config":           h.HandleUpdateConfig,
		"POST /v1/config/reload":   h.HandleReload,
		"POST /v1/config/rollback": h.HandleRollback,
		"GET /v1/config/fields":    h.HandleFields,
		"GET /v1/config/changes":   h.HandleChanges,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, wrap(fn))
	}
}

// HandleGetConfig 返回脱敏后的当前配置
// @Summary Current configuration
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=ConfigView} "Configuration"
// @Security ApiKeyAuth
// @Router /v1/config [get]
func (h *ConfigAPIHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeAPISuccess(w, ConfigView{
		Version: h.manager.GetCurrentVersion(),
		Config:  h.manager.SanitizedConfig(),
	})
}

// HandleUpdateConfig 原子地修改一组已登记字段；任一字段无效时全部不生效
// @Summary Update configuration
// @Tags config
// @Accept json
// @Produce json
// @Param request body ConfigUpdateRequest true "Field updates"
// @Success 200 {object} api.Response{data=UpdateResult} "Applied"
// @Failure 400 {object} api.Response "Invalid update"
// @Failure 409 {object} api.Response "Rejected by a running component, rolled back"
// @Security ApiKeyAuth
// @Router /v1/config [put]
func (h *ConfigAPIHandler) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Updates) == 0 {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "no updates provided")
		return
	}

	before := h.manager.GetCurrentVersion()
	if err := h.manager.UpdateFields(req.Updates); err != nil {
		h.writeApplyError(w, err)
		return
	}
	writeAPISuccess(w, h.resultSince(before))
}

// HandleReload 从配置文件重新加载
// @Summary Reload configuration from file
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=UpdateResult} "Reloaded"
// @Failure 409 {object} api.Response "Rejected, previous config kept"
// @Security ApiKeyAuth
// @Router /v1/config/reload [post]
func (h *ConfigAPIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	before := h.manager.GetCurrentVersion()
	if err := h.manager.ReloadFromFile(); err != nil {
		h.writeApplyError(w, err)
		return
	}
	writeAPISuccess(w, h.resultSince(before))
}

// HandleRollback 重新应用上一个配置，或 ?version=N 指定的历史版本
// @Summary Roll back configuration
// @Tags config
// @Produce json
// @Param version query int false "History version to restore"
// @Success 200 {object} api.Response{data=UpdateResult} "Rolled back"
// @Failure 404 {object} api.Response "Version not in history"
// @Security ApiKeyAuth
// @Router /v1/config/rollback [post]
func (h *ConfigAPIHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	before := h.manager.GetCurrentVersion()

	var err error
	if v := r.URL.Query().Get("version"); v != "" {
		version, perr := strconv.Atoi(v)
		if perr != nil || version < 1 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "version must be a positive integer")
			return
		}
		err = h.manager.RollbackToVersion(version)
	} else {
		err = h.manager.Rollback()
	}
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeAPISuccess(w, h.resultSince(before))
}

// HandleFields 列出已登记字段，按路径排序
// @Summary Registered configuration fields
// @Tags config
// @Produce json
// @Success 200 {object} api.Response{data=[]FieldInfo} "Fields"
// @Security ApiKeyAuth
// @Router /v1/config/fields [get]
func (h *ConfigAPIHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	fields := make([]FieldInfo, 0, len(hotReloadableFields))
	for path, field := range hotReloadableFields {
		info := FieldInfo{
			Path:            path,
			Description:     field.Description,
			HotReloadable:   !field.RequiresRestart,
			RequiresRestart: field.RequiresRestart,
			Sensitive:       field.Sensitive,
		}
		if !field.Sensitive {
			if value, err := h.manager.getFieldValue(path); err == nil {
				info.CurrentValue = value
			}
		}
		fields = append(fields, info)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	writeAPISuccess(w, fields)
}

// HandleChanges 返回最近的字段变更
// @Summary Configuration change log
// @Tags config
// @Produce json
// @Param limit query int false "Max changes" default(50)
// @Success 200 {object} api.Response{data=[]ConfigChange} "Changes"
// @Security ApiKeyAuth
// @Router /v1/config/changes [get]
func (h *ConfigAPIHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = l
	}
	writeAPISuccess(w, h.manager.GetChangeLog(limit))
}

// resultSince 对比 before 版本与当前配置，按是否需要重启分组
func (h *ConfigAPIHandler) resultSince(before int) UpdateResult {
	res := UpdateResult{Version: h.manager.GetCurrentVersion()}
	if res.Version == before {
		return res
	}
	var base *Config
	for _, snap := range h.manager.GetConfigHistory() {
		if snap.Version == before {
			base = snap.Config
			break
		}
	}
	// 历史已被裁剪
	if base == nil {
		return res
	}
	for _, c := range detectChanges(base, h.manager.GetConfig()) {
		if field, ok := hotReloadableFields[c.Path]; ok && !field.RequiresRestart {
			res.Applied = append(res.Applied, c.Path)
		} else {
			res.PendingRestart = append(res.PendingRestart, c.Path)
		}
	}
	sort.Strings(res.Applied)
	sort.Strings(res.PendingRestart)
	return res
}

// writeApplyError 区分参数错误与被运行中组件拒绝后的回滚
func (h *ConfigAPIHandler) writeApplyError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRolledBack) {
		writeAPIError(w, http.StatusConflict, "CONFIG_ROLLED_BACK", err.Error())
		return
	}
	writeAPIError(w, http.StatusBadRequest, "CONFIG_INVALID", err.Error())
}

// --- 响应 ---

func writeAPISuccess(w http.ResponseWriter, data any) {
	writeAPIJSON(w, http.StatusOK, api.Response{Success: true, Data: data, Timestamp: time.Now()})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeAPIJSON(w, status, api.Response{
		Success:   false,
		Error:     &api.ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// writeAPIJSON 先序列化再写头，编码失败时仍能返回 500
func writeAPIJSON(w http.ResponseWriter, status int, body api.Response) {
	buf, err := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
