package intercept

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// taskRunner 是拦截器的后台执行上下文：缓存回写与后台刷新都作为任务
// 提交到这里执行。任务完成顺序与并发读之间没有任何排序保证——
// 读到旧快照的请求本来也会走网络，属于可接受的竞态。
type taskRunner struct {
	logger *logrus.Logger
	tasks  chan namedTask
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

type namedTask struct {
	name string
	fn   func(context.Context)
}

func newTaskRunner(logger *logrus.Logger, queueSize int) *taskRunner {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &taskRunner{
		logger: logger,
		tasks:  make(chan namedTask, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *taskRunner) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for task := range r.tasks {
			task.fn(r.ctx)
		}
	}()
}

// submit 非阻塞入队；队列饱和时丢弃任务并记录告警，绝不拖慢响应路径。
func (r *taskRunner) submit(name string, fn func(context.Context)) bool {
	select {
	case r.tasks <- namedTask{name: name, fn: fn}:
		return true
	default:
		r.logger.WithFields(logrus.Fields{
			"action": "background_task_dropped",
			"task":   name,
		}).Warn("后台任务队列已满")
		return false
	}
}

// close 停止接收新任务并等待已入队任务执行完毕。
func (r *taskRunner) close() {
	r.closeOnce.Do(func() {
		close(r.tasks)
		r.wg.Wait()
		r.cancel()
	})
}
