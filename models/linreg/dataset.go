package linreg

import (
	"fmt"
	"math/rand/v2"

	"github.com/BaSui01/hivetrain/scheduler"
)

// =============================================================================
// 📦 合成数据集
// =============================================================================

// Dataset y = w·x + b + noise 的确定性样本，按行优先存储
type Dataset struct {
	features int
	x        []float64
	y        []float64
	trueW    []float64
	trueB    float64
}

// DatasetConfig 生成参数
type DatasetConfig struct {
	Features int
	Examples int
	Noise    float64
	Seed     int64
}

// NewDataset 以 Seed 确定性地生成数据集
func NewDataset(cfg DatasetConfig) (*Dataset, error) {
	if cfg.Features < 1 {
		return nil, fmt.Errorf("features must be >= 1, got %d", cfg.Features)
	}
	if cfg.Examples < 1 {
		return nil, fmt.Errorf("examples must be >= 1, got %d", cfg.Examples)
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("noise must be >= 0, got %v", cfg.Noise)
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15))
	ds := &Dataset{
		features: cfg.Features,
		x:        make([]float64, cfg.Examples*cfg.Features),
		y:        make([]float64, cfg.Examples),
		trueW:    make([]float64, cfg.Features),
		trueB:    rng.Float64()*2 - 1,
	}
	for j := range ds.trueW {
		ds.trueW[j] = rng.Float64()*4 - 2
	}
	for i := 0; i < cfg.Examples; i++ {
		row := ds.x[i*cfg.Features : (i+1)*cfg.Features]
		y := ds.trueB
		for j := range row {
			row[j] = rng.NormFloat64()
			y += ds.trueW[j] * row[j]
		}
		ds.y[i] = y + rng.NormFloat64()*cfg.Noise
	}
	return ds, nil
}

// Features returns the input dimension.
func (d *Dataset) Features() int { return d.features }

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.y) }

// ParamCount 权重个数：每个特征一个，外加偏置
func (d *Dataset) ParamCount() int { return d.features + 1 }

// TrueParams 生成数据用的真实参数，布局与模型权重一致
func (d *Dataset) TrueParams() []float64 {
	out := make([]float64, 0, d.features+1)
	out = append(out, d.trueW...)
	return append(out, d.trueB)
}

func (d *Dataset) row(i int) []float64 {
	return d.x[i*d.features : (i+1)*d.features]
}

// =============================================================================
// 🔁 SyntheticSource
// =============================================================================

// SyntheticSource 把数据集切成固定大小的批次，每个 epoch 按种子打乱批次顺序。
// 批次 ID 与顺序无关，等于批次在数据集中的下标。
type SyntheticSource struct {
	ds        *Dataset
	batchSize int
	seed      int64
	shuffle   bool

	// 只由调度器的单个拉取协程访问
	order      []int
	orderEpoch int
}

// SourceOption SyntheticSource 选项
type SourceOption func(*SyntheticSource)

// WithoutShuffle 每个 epoch 保持数据集原始顺序
func WithoutShuffle() SourceOption {
	return func(s *SyntheticSource) { s.shuffle = false }
}

// NewSyntheticSource 创建批次来源，最后一个批次可能不足 batchSize
func NewSyntheticSource(ds *Dataset, batchSize int, seed int64, opts ...SourceOption) (*SyntheticSource, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", batchSize)
	}
	s := &SyntheticSource{ds: ds, batchSize: batchSize, seed: seed, shuffle: true, orderEpoch: -1}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Batches returns the number of batches per epoch.
func (s *SyntheticSource) Batches() int {
	return (s.ds.Len() + s.batchSize - 1) / s.batchSize
}

// TotalBatches implements scheduler.BatchSource.
func (s *SyntheticSource) TotalBatches(int) int { return s.Batches() }

// NextBatch implements scheduler.BatchSource.
func (s *SyntheticSource) NextBatch(cursor scheduler.EpochCursor) (scheduler.Batch, bool) {
	n := s.Batches()
	if cursor.Index < 0 || cursor.Index >= n {
		return scheduler.Batch{}, false
	}
	idx := s.orderFor(cursor.Epoch)[cursor.Index]
	lo := idx * s.batchSize
	hi := min(lo+s.batchSize, s.ds.Len())
	return scheduler.Batch{ID: uint64(idx), Lo: lo, Hi: hi}, true
}

func (s *SyntheticSource) orderFor(epoch int) []int {
	if s.order != nil && s.orderEpoch == epoch {
		return s.order
	}
	n := s.Batches()
	if s.order == nil {
		s.order = make([]int, n)
	}
	for i := range s.order {
		s.order[i] = i
	}
	if s.shuffle {
		rng := rand.New(rand.NewPCG(uint64(s.seed), uint64(epoch)))
		rng.Shuffle(n, func(i, j int) { s.order[i], s.order[j] = s.order[j], s.order[i] })
	}
	s.orderEpoch = epoch
	return s.order
}
