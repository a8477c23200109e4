package pool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("停止前清空队列中的全部任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, zap.NewNop())
		p.Start()

		var ran atomic.Int32
		gate := make(chan struct{})
		p.Submit(func() {
			<-gate
			ran.Add(1)
		})
		// 工作协程被首个任务占住，后续任务全部滞留在队列里
		for i := 0; i < 4; i++ {
			p.Submit(func() { ran.Add(1) })
		}

		close(gate)
		p.Stop()

		assert.Equal(t, int32(5), ran.Load())
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 2, zap.NewNop())
		p.Start()

		var ran atomic.Int32
		p.Submit(func() { panic("boom") })
		p.Submit(func() { ran.Add(1) })
		p.Stop()

		assert.Equal(t, int32(1), ran.Load())
	})
}
