package api

import (
	"time"
)

// =============================================================================
// 📦 统一响应信封
// =============================================================================

// Response 统一 API 响应结构
// @Description 所有接口共用的响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
// @Description 错误详细结构
type ErrorInfo struct {
	// 错误代码，取值见 types.ErrorCode
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message string `json:"message" example:"invalid request body"`
	// 附加信息
	Details string `json:"details,omitempty"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty"`
	// 出错的层次节点路径
	NodePath string `json:"node_path,omitempty" example:"0.2.1"`
	// HTTP 状态码，不序列化
	HTTPStatus int `json:"-"`
}

// =============================================================================
// 🏋️ 训练运行类型
// =============================================================================

// RunState 训练运行状态
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateStopped   RunState = "stopped"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// RunStatus 当前训练运行的概要
// @Description 训练运行状态
type RunStatus struct {
	// 运行 ID
	RunID string `json:"run_id" example:"2b1c7d3e-9a4f-4d1e-8c55-1f0a6d2e7b90"`
	// 运行状态
	State RunState `json:"state" example:"running"`
	// 已完成的 epoch 数
	EpochsDone int `json:"epochs_done" example:"12"`
	// 计划 epoch 数
	EpochsPlanned int `json:"epochs_planned" example:"20"`
	// epoch 尝试次数（含失败）
	Attempts int `json:"attempts" example:"13"`
	// 连续失败次数
	ConsecutiveFailures int `json:"consecutive_failures" example:"0"`
	// 最近一次 epoch 的损失，尚无成功 epoch 时为空
	LastLoss *float64 `json:"last_loss,omitempty" example:"0.0132"`
	// 目前为止的最优损失
	BestLoss *float64 `json:"best_loss,omitempty" example:"0.0121"`
	// 当前学习率
	LearningRate float64 `json:"learning_rate" example:"0.05"`
	// 当前裁剪阈值
	MaxGradNorm float64 `json:"max_grad_norm" example:"1"`
	// 开始时间
	StartedAt *time.Time `json:"started_at,omitempty"`
	// 结束时间
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// 结束原因
	StopReason string `json:"stop_reason,omitempty" example:"early_stop"`
	// 失败时的错误
	Error string `json:"error,omitempty"`
}

// EpochRecord 一个 epoch 的历史记录
// @Description epoch 历史记录
type EpochRecord struct {
	// epoch 序号（每次尝试递增）
	Epoch int `json:"epoch" example:"3"`
	// 本 epoch 处理的批次数
	Batches int `json:"batches" example:"64"`
	// 平均损失
	Loss float64 `json:"loss" example:"0.21"`
	// 裁剪前梯度范数
	GradientNorm float64 `json:"gradient_norm" example:"1.7"`
	// 是否触发裁剪
	Clipped bool `json:"clipped"`
	// 是否已更新权重
	Applied bool `json:"applied"`
	// 本 epoch 使用的学习率
	LearningRate float64 `json:"learning_rate" example:"0.05"`
	// 耗时（毫秒）
	DurationMS int64 `json:"duration_ms" example:"12"`
	// 失败时的错误码
	ErrorCode string `json:"error_code,omitempty" example:"NUMERIC_INVALID"`
	// 失败时的错误信息
	Error string `json:"error,omitempty"`
}

// HistoryResponse epoch 历史
// @Description epoch 历史响应
type HistoryResponse struct {
	RunID  string        `json:"run_id"`
	Epochs []EpochRecord `json:"epochs"`
}

// HyperParamsRequest 修改超参数，下一个 epoch 生效
// @Description 超参数更新请求
type HyperParamsRequest struct {
	// 学习率，必须为正
	LearningRate *float64 `json:"learning_rate,omitempty" example:"0.01"`
	// 裁剪阈值，0 关闭
	MaxGradNorm *float64 `json:"max_grad_norm,omitempty" example:"2"`
}

// StopRequest 停止训练请求
// @Description 停止训练
type StopRequest struct {
	// 停止原因，写入运行记录
	Reason string `json:"reason,omitempty" example:"operator request"`
}

// StopResponse 停止训练响应
type StopResponse struct {
	RunID   string   `json:"run_id"`
	State   RunState `json:"state"`
	Stopped bool     `json:"stopped"`
}
