package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// 👷 Worker: 组成员循环
// =============================================================================

// memberLoop 一个非根节点的整个生命周期。叶子在 Computing 中调用模型，
// 分支在 Computing 中驱动一整轮子组协议。
func (s *Scheduler) memberLoop(n *Node, g *group) error {
	st := &n.state
	defer st.setState(StateTerminating)

	var child *group
	if _, ok := n.Role.(Branch); ok {
		child = s.groups[n.ID]
		defer child.owner.state.setControl(ControlTerminated)
	}

	for {
		st.setState(StateAwaitingBarrier)
		// 起始屏障：控制节点已重置队列并写好 g.ctx
		if _, err := g.barrier.Await(s.lifetime); err != nil {
			return nil
		}
		stepCtx := g.ctx
		staging := g.partials[n.Index]
		clear(staging)

		var res memberResult
		if child == nil {
			res = s.leafStep(stepCtx, n, g, staging)
		} else {
			var stop bool
			res, stop = s.branchStep(stepCtx, n, g, child, staging)
			if stop {
				return nil
			}
		}
		g.results[n.Index] = res
		st.clearCurrent()

		st.setState(StateAwaitingBarrier)
		// 排空屏障：此后所有 partial 只读
		if _, err := g.barrier.Await(s.lifetime); err != nil {
			return nil
		}
		if g.failed() == nil && !s.shutdown.Load() {
			st.setState(StateAccumulating)
			g.buffer.Accumulate(n.Index, g.partials)
			st.setState(StateAwaitingBarrier)
		}
		// 完成屏障：刷写对控制节点可见
		if _, err := g.barrier.Await(s.lifetime); err != nil {
			return nil
		}
	}
}

// leafStep 拉取并计算，直到队列排空或本轮被中止
func (s *Scheduler) leafStep(ctx context.Context, n *Node, g *group, staging []float64) memberResult {
	st := &n.state
	view := s.weights.ReadOnly()
	var res memberResult
	for !g.stopped() {
		st.setState(StatePulling)
		b, ok := g.queue.PopWait(ctx, s.policy, g.stopped)
		if !ok {
			break
		}
		st.setState(StateComputing)
		st.setCurrent(b)
		delta, loss, err := s.compute(ctx, view, b)
		if err == nil && len(delta) != len(staging) {
			err = fmt.Errorf("gradient length %d, want %d", len(delta), len(staging))
		}
		if err != nil {
			berr := &BatchError{BatchID: b.ID, NodePath: n.Path, Cause: err}
			st.setError(berr)
			g.fail(berr)
			s.logger.Warn("batch failed",
				zap.Uint64("batch_id", b.ID),
				zap.String("node", n.Path),
				zap.Error(err),
			)
			break
		}

		st.setState(StateAccumulating)
		for i, v := range delta {
			staging[i] += v
		}
		res.batches++
		res.lossSum += loss
		st.publish(1, loss)
	}
	if ctx.Err() != nil {
		g.fail(ctx.Err())
	}
	return res
}

// compute 调用模型，模型 panic 视为该批次失败
func (s *Scheduler) compute(ctx context.Context, view ReadOnlyView, b Batch) (delta GradientDelta, loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errModelPanicked, r)
		}
	}()
	return s.model.ComputeGradients(ctx, view, b)
}

// branchStep 分支作为父组成员：从父队列取一段批次，交给子组完成一轮，
// 把子组归约结果并入自己的 partial。返回 stop=true 表示调度器关闭。
func (s *Scheduler) branchStep(ctx context.Context, n *Node, g, child *group, staging []float64) (memberResult, bool) {
	st := &n.state
	var res memberResult
	for !g.stopped() {
		st.setState(StatePulling)
		first, ok := g.queue.PopWait(ctx, s.policy, g.stopped)
		if !ok {
			break
		}

		st.setState(StateComputing)
		st.setCurrent(first)
		feed := &queueFeed{
			first:  &first,
			queue:  g.queue,
			limit:  s.chunkSize,
			policy: s.policy,
			stop:   g.stopped,
		}
		round, err := child.runRound(ctx, s.lifetime, g.epoch, feed)
		if errors.Is(err, ErrShutdown) {
			return res, true
		}
		if err != nil {
			st.setError(err)
			g.fail(err)
			break
		}

		st.setControl(ControlReducing)
		if _, err := child.buffer.Reduce(); err != nil {
			var nerr *NumericError
			if errors.As(err, &nerr) {
				nerr.NodePath = n.Path
			}
			st.setError(err)
			g.fail(err)
			child.buffer.Zero()
			break
		}

		// 分支的 ApplyingUpdate：把归约结果作为自己的梯度增量向上交付
		st.setControl(ControlApplyingUpdate)
		st.setState(StateAccumulating)
		child.buffer.AddTo(staging)
		child.buffer.Zero()
		res.batches += round.batches
		res.lossSum += round.lossSum
		st.publish(round.batches, round.lossSum)
		st.setControl(ControlIdle)
	}
	if ctx.Err() != nil {
		g.fail(ctx.Err())
	}
	return res, false
}
