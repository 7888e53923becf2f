package service

import (
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
)

// WorkerPool 有界队列 + 固定 worker，替代请求路径里的裸 goroutine。
// 队列满或已停止时直接拒绝，由调用方决定如何收尾。
type WorkerPool struct {
	pool     pond.Pool
	stopOnce sync.Once
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &WorkerPool{
		pool: pond.NewPool(workers, pond.WithQueueSize(queueSize)),
	}
}

// Go 提交任务，返回 false 表示未入队，task 不会被执行
func (p *WorkerPool) Go(task func()) bool {
	if task == nil {
		return true
	}
	if p == nil || p.pool == nil || p.pool.Stopped() {
		logrus.Warn("worker_pool_stopped_rejected")
		return false
	}
	if _, ok := p.pool.TrySubmit(task); ok {
		return true
	}
	logrus.WithField("waiting", p.pool.WaitingTasks()).Warn("worker_pool_full_rejected")
	return false
}

// Stop 停止接收任务并等待队列清空
func (p *WorkerPool) Stop() {
	if p == nil || p.pool == nil {
		return
	}
	p.stopOnce.Do(func() {
		p.pool.StopAndWait()
	})
}
