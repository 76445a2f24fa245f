// Package fixtures 提供调度器测试的预置配置与批次数据
package fixtures

import (
	"math/rand"

	"github.com/BaSui01/hivetrain/scheduler"
)

// FlatConfig 单层：workers 个叶子直接挂在根下
func FlatConfig(workers, capacity int) scheduler.Config {
	return scheduler.Config{
		Workers:       workers,
		Fanout:        workers,
		MaxDepth:      4,
		QueueCapacity: capacity,
		MaxGradNorm:   0,
		LearningRate:  0.1,
	}
}

// NestedConfig 按 fanout 分层的配置
func NestedConfig(workers, fanout, capacity, chunk int) scheduler.Config {
	return scheduler.Config{
		Workers:       workers,
		Fanout:        fanout,
		MaxDepth:      6,
		QueueCapacity: capacity,
		MaxGradNorm:   0,
		LearningRate:  0.1,
		ChunkSize:     chunk,
	}
}

// ZeroWeights 长度为 n 的零权重
func ZeroWeights(n int) []float64 {
	return make([]float64, n)
}

// ShuffledBatches 返回 n 个批次的随机排列
func ShuffledBatches(n int, seed int64) []scheduler.Batch {
	batches := make([]scheduler.Batch, n)
	for i := range batches {
		batches[i] = scheduler.Batch{ID: uint64(i), Lo: i, Hi: i + 1}
	}
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(batches), func(i, j int) { batches[i], batches[j] = batches[j], batches[i] })
	return batches
}
