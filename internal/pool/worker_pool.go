package pool

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool 协程池
//
// 调度器用它承载在途发送任务：协程数即同时在途的发送上限，
// 避免每个任务各起一个协程。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	log        *zap.Logger
	wg         sync.WaitGroup
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		log:        log,
	}
}

// Start 启动协程池
func (p *WorkerPool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位
func (p *WorkerPool) Submit(task func()) {
	p.taskQueue <- task
}

// Stop 停止协程池
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
//
// 一直消费到队列关闭为止：已入队的任务必定被执行，
// 提交方对任务完成的等待才不会悬空。
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		// 执行任务（捕获 panic）
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("worker task panicked", zap.Any("panic", r))
				}
			}()
			task()
		}()
	}
}
