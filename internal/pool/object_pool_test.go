package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_GetPutStats(t *testing.T) {
	p := NewPool(func() []float64 { return make([]float64, 0, 8) }, func(s *[]float64) { *s = (*s)[:0] })

	s := p.Get()
	s = append(s, 1, 2, 3)
	p.Put(s)

	got := p.Get()
	assert.Empty(t, got)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.GreaterOrEqual(t, stats.News, int64(1))
	assert.LessOrEqual(t, stats.HitRate(), 0.5)
	assert.Zero(t, Stats{}.HitRate())
}

func TestByteBufferPool_ResetsAndDropsLargeBuffers(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("snapshot")
	ByteBufferPool.Put(buf)

	big := ByteBufferPool.Get()
	big.Write(bytes.Repeat([]byte("x"), maxPooledBuffer+1))
	ByteBufferPool.Put(big)

	for i := 0; i < 4; i++ {
		b := ByteBufferPool.Get()
		assert.Zero(t, b.Len())
		assert.LessOrEqual(t, b.Cap(), maxPooledBuffer)
		ByteBufferPool.Put(b)
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, func(b **bytes.Buffer) { (*b).Reset() })
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Get()
				b.WriteByte('a')
				p.Put(b)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), p.Stats().Gets)
	assert.Equal(t, int64(1600), p.Stats().Puts)
}
