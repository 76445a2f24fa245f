package linreg

import (
	"context"
	"fmt"

	"github.com/BaSui01/hivetrain/scheduler"
)

// Model 线性回归，损失为 0.5 * 均方误差。
//
// 权重布局为 [w_0..w_{F-1}, b]。ComputeGradients 只读共享数据集，
// 可被多个 worker 并发调用。
type Model struct {
	ds          *Dataset
	weightDecay float64
}

// ModelOption Model 选项
type ModelOption func(*Model)

// WithWeightDecay 在更新时加入 L2 衰减（不作用于偏置）
func WithWeightDecay(lambda float64) ModelOption {
	return func(m *Model) { m.weightDecay = lambda }
}

// NewModel 创建绑定到数据集的模型
func NewModel(ds *Dataset, opts ...ModelOption) *Model {
	m := &Model{ds: ds}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ scheduler.Model = (*Model)(nil)

// ComputeGradients 返回批次内的平均梯度与平均损失
func (m *Model) ComputeGradients(ctx context.Context, weights scheduler.ReadOnlyView, batch scheduler.Batch) (scheduler.GradientDelta, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f := m.ds.features
	if weights.Len() != f+1 {
		return nil, 0, fmt.Errorf("weights have %d params, model needs %d", weights.Len(), f+1)
	}
	if batch.Lo < 0 || batch.Hi > m.ds.Len() || batch.Lo >= batch.Hi {
		return nil, 0, fmt.Errorf("batch %d range [%d,%d) outside dataset of %d", batch.ID, batch.Lo, batch.Hi, m.ds.Len())
	}

	bias := weights.At(f)
	grad := make(scheduler.GradientDelta, f+1)
	var loss float64
	for i := batch.Lo; i < batch.Hi; i++ {
		row := m.ds.row(i)
		pred := bias
		for j, x := range row {
			pred += weights.At(j) * x
		}
		residual := pred - m.ds.y[i]
		loss += 0.5 * residual * residual
		for j, x := range row {
			grad[j] += residual * x
		}
		grad[f] += residual
	}

	n := float64(batch.Size())
	for j := range grad {
		grad[j] /= n
	}
	return grad, loss / n, nil
}

// ApplyGradients 普通 SGD：w -= lr * (g + λw)
func (m *Model) ApplyGradients(ctx context.Context, weights scheduler.MutableView, reduced scheduler.GradientView, lr float64) error {
	if weights.Len() != reduced.Len() {
		return fmt.Errorf("gradient has %d values, weights have %d", reduced.Len(), weights.Len())
	}
	last := weights.Len() - 1
	for i := 0; i < weights.Len(); i++ {
		g := reduced.At(i)
		if m.weightDecay > 0 && i != last {
			g += m.weightDecay * weights.At(i)
		}
		weights.Add(i, -lr*g)
	}
	return nil
}

// Loss 全数据集上的 0.5*MSE，用于评估
func (m *Model) Loss(weights []float64) float64 {
	f := m.ds.features
	var loss float64
	for i := 0; i < m.ds.Len(); i++ {
		pred := weights[f]
		for j, x := range m.ds.row(i) {
			pred += weights[j] * x
		}
		r := pred - m.ds.y[i]
		loss += 0.5 * r * r
	}
	return loss / float64(m.ds.Len())
}
