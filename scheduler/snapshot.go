package scheduler

import "time"

// NodeSnapshot 单个节点的只读快照
type NodeSnapshot struct {
	ID               int     `json:"id"`
	Path             string  `json:"path"`
	Level            int     `json:"level"`
	Role             string  `json:"role"`
	State            string  `json:"state"`
	ControlState     string  `json:"control_state,omitempty"`
	BatchesProcessed int64   `json:"batches_processed"`
	EpochBatches     int64   `json:"epoch_batches"`
	LocalLoss        float64 `json:"local_loss"`
	CurrentBatch     *uint64 `json:"current_batch,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// BufferSnapshot 最近一次成功 epoch 的缓冲级统计
type BufferSnapshot struct {
	Epoch        int     `json:"epoch"`
	BatchCount   int     `json:"batch_count"`
	GradientNorm float64 `json:"gradient_norm"`
	EpochLoss    float64 `json:"epoch_loss"`
	Clipped      bool    `json:"clipped"`
	Applied      bool    `json:"applied"`
	ParamCount   int     `json:"param_count"`
	Segments     int     `json:"segments"`
}

// Snapshot 调度器的观测视图，供监控层使用
type Snapshot struct {
	Taken    time.Time      `json:"taken"`
	Attempts int            `json:"attempts"`
	Depth    int            `json:"depth"`
	Workers  int            `json:"workers"`
	Running  bool           `json:"running"`
	Nodes    []NodeSnapshot `json:"nodes"`
	Buffer   BufferSnapshot `json:"buffer"`
	QueueLen int            `json:"queue_len"`
	QueueCap int            `json:"queue_cap"`
}

// Snapshot 读取所有节点发布的原子状态，不修改任何东西
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Taken:    time.Now(),
		Attempts: s.Epoch(),
		Depth:    s.root.Depth(),
		Workers:  s.root.LeafCount(),
		Running:  s.started.Load() && !s.shutdown.Load(),
		Nodes:    make([]NodeSnapshot, 0, len(s.nodes)),
		QueueLen: s.rootGroup.queue.Len(),
		QueueCap: s.rootGroup.queue.Cap(),
	}
	for _, n := range s.nodes {
		st := &n.state
		ns := NodeSnapshot{
			ID:               n.ID,
			Path:             n.Path,
			Level:            n.Level,
			Role:             n.Role.Kind(),
			State:            st.State().String(),
			BatchesProcessed: st.BatchesProcessed(),
			EpochBatches:     st.EpochBatches(),
			LocalLoss:        st.LocalLoss(),
		}
		if _, ok := n.Role.(Branch); ok {
			ns.ControlState = st.ControlState().String()
		}
		if id, ok := st.CurrentBatch(); ok {
			ns.CurrentBatch = &id
		}
		if err := st.Err(); err != nil {
			ns.Error = err.Error()
		}
		snap.Nodes = append(snap.Nodes, ns)
	}

	snap.Buffer.ParamCount = s.weights.Len()
	snap.Buffer.Segments = len(s.rootGroup.buffer.Segments())
	if last := s.last.Load(); last != nil {
		snap.Buffer.Epoch = last.Epoch
		snap.Buffer.BatchCount = last.Batches
		snap.Buffer.GradientNorm = last.GradientNorm
		snap.Buffer.EpochLoss = last.EpochLoss
		snap.Buffer.Clipped = last.Clipped
		snap.Buffer.Applied = last.Applied
	}
	return snap
}
