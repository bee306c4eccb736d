package intercept

import (
	"fmt"
	"sync"
)

// State 描述拦截层自身的生命周期阶段（非单个请求的状态）。
type State string

const (
	StateRegistering       State = "registering"
	StateInstalling        State = "installing"
	StateWaitingToActivate State = "waiting-to-activate"
	StateActive            State = "active"
	StateSuperseded        State = "superseded"
)

// lifecycle 用互斥锁保护状态迁移；非法迁移返回错误而不是 panic。
type lifecycle struct {
	mu      sync.Mutex
	current State
}

func newLifecycle() *lifecycle {
	return &lifecycle{current: StateRegistering}
}

func (l *lifecycle) state() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// transition 仅允许 from → to 的迁移，其余输入返回错误。
func (l *lifecycle) transition(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != from {
		return fmt.Errorf("invalid lifecycle transition %s → %s (current %s)", from, to, l.current)
	}
	l.current = to
	return nil
}

// force 无条件覆盖状态，用于失败回退与 Supersede。
func (l *lifecycle) force(to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = to
}
