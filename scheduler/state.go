package scheduler

import (
	"math"
	"sync/atomic"
)

// NodeState Worker 生命周期状态
type NodeState int32

const (
	StateIdle NodeState = iota
	StatePulling
	StateComputing
	StateAccumulating
	StateAwaitingBarrier
	StateTerminating
)

var nodeStateNames = [...]string{
	StateIdle:            "idle",
	StatePulling:         "pulling",
	StateComputing:       "computing",
	StateAccumulating:    "accumulating",
	StateAwaitingBarrier: "awaiting_barrier",
	StateTerminating:     "terminating",
}

func (s NodeState) String() string {
	if int(s) < len(nodeStateNames) {
		return nodeStateNames[s]
	}
	return "unknown"
}

// ControlState 控制节点编排状态
type ControlState int32

const (
	ControlIdle ControlState = iota
	ControlSeedingQueue
	ControlWaitingForWorkers
	ControlReducing
	ControlApplyingUpdate
	ControlTerminated
)

var controlStateNames = [...]string{
	ControlIdle:              "idle",
	ControlSeedingQueue:      "seeding_queue",
	ControlWaitingForWorkers: "waiting_for_workers",
	ControlReducing:          "reducing",
	ControlApplyingUpdate:    "applying_update",
	ControlTerminated:        "terminated",
}

func (s ControlState) String() string {
	if int(s) < len(controlStateNames) {
		return controlStateNames[s]
	}
	return "unknown"
}

// errorBox 让 atomic.Pointer 可以承载 error 接口
type errorBox struct{ err error }

// WorkerState 节点的运行记录。
//
// 只由所属协程写入，通过原子字段对外发布；Snapshot 只读不写。
type WorkerState struct {
	state     atomic.Int32
	control   atomic.Int32
	current   atomic.Uint64 // batch ID + 1，0 表示无
	processed atomic.Int64
	epochDone atomic.Int64
	lossBits  atomic.Uint64
	err       atomic.Pointer[errorBox]
}

func (w *WorkerState) setState(s NodeState)      { w.state.Store(int32(s)) }
func (w *WorkerState) setControl(s ControlState) { w.control.Store(int32(s)) }

func (w *WorkerState) setCurrent(b Batch) { w.current.Store(b.ID + 1) }
func (w *WorkerState) clearCurrent()      { w.current.Store(0) }

// beginEpoch 清空本 epoch 的局部累计
func (w *WorkerState) beginEpoch() {
	w.epochDone.Store(0)
	w.lossBits.Store(0)
	w.err.Store(nil)
}

// publish 累加本 epoch 的批次数与损失。只有所属协程调用，读改写无需 CAS。
func (w *WorkerState) publish(batches int, loss float64) {
	w.processed.Add(int64(batches))
	w.epochDone.Add(int64(batches))
	w.lossBits.Store(math.Float64bits(w.LocalLoss() + loss))
}

func (w *WorkerState) setError(err error) { w.err.Store(&errorBox{err: err}) }

// State returns the published lifecycle state.
func (w *WorkerState) State() NodeState { return NodeState(w.state.Load()) }

// ControlState returns the published orchestration state (branches only).
func (w *WorkerState) ControlState() ControlState { return ControlState(w.control.Load()) }

// BatchesProcessed returns the cumulative number of leaf batches handled.
func (w *WorkerState) BatchesProcessed() int64 { return w.processed.Load() }

// LocalLoss returns the loss sum accumulated in the current epoch.
func (w *WorkerState) LocalLoss() float64 { return math.Float64frombits(w.lossBits.Load()) }

// Err returns the last recorded failure, if any.
func (w *WorkerState) Err() error {
	if box := w.err.Load(); box != nil {
		return box.err
	}
	return nil
}

// CurrentBatch returns the batch being processed.
func (w *WorkerState) CurrentBatch() (uint64, bool) {
	v := w.current.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// EpochBatches returns the batches handled in the most recent epoch the node took part in.
func (w *WorkerState) EpochBatches() int64 { return w.epochDone.Load() }
