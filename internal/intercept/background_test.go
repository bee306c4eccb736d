package intercept

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
)

func newDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTaskRunnerDrainsOnClose(t *testing.T) {
	runner := newTaskRunner(newDiscardLogger(), 8)
	runner.start()

	var done atomic.Int32
	for idx := 0; idx < 5; idx++ {
		if ok := runner.submit("write", func(context.Context) { done.Add(1) }); !ok {
			t.Fatalf("队列未满时提交不应失败")
		}
	}

	runner.close()
	if done.Load() != 5 {
		t.Fatalf("close 应等待全部任务完成，实际完成 %d", done.Load())
	}
}

func TestTaskRunnerDropsWhenQueueFull(t *testing.T) {
	runner := newTaskRunner(newDiscardLogger(), 1)
	// 故意不 start：队列容量 1，第二个任务必然被丢弃。

	if ok := runner.submit("first", func(context.Context) {}); !ok {
		t.Fatalf("首个任务应入队成功")
	}
	if ok := runner.submit("second", func(context.Context) {}); ok {
		t.Fatalf("队列饱和时应丢弃任务而不是阻塞")
	}

	runner.start()
	runner.close()
}

func TestTaskRunnerCloseIsIdempotent(t *testing.T) {
	runner := newTaskRunner(newDiscardLogger(), 4)
	runner.start()
	runner.close()
	runner.close()
}
