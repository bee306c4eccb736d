package intercept

import "testing"

func TestLifecycleStartsRegistering(t *testing.T) {
	fsm := newLifecycle()
	if fsm.state() != StateRegistering {
		t.Fatalf("初始状态应为 registering，得到 %s", fsm.state())
	}
}

func TestLifecycleTransitionEnforcesCurrentState(t *testing.T) {
	fsm := newLifecycle()

	if err := fsm.transition(StateRegistering, StateInstalling); err != nil {
		t.Fatalf("合法迁移不应报错: %v", err)
	}
	if err := fsm.transition(StateRegistering, StateInstalling); err == nil {
		t.Fatalf("重复迁移应报错：当前已不在 registering")
	}
	if err := fsm.transition(StateWaitingToActivate, StateActive); err == nil {
		t.Fatalf("跳过 installing 的迁移应报错")
	}
	if fsm.state() != StateInstalling {
		t.Fatalf("非法迁移不应改变状态，得到 %s", fsm.state())
	}
}

func TestLifecycleForceOverridesAnyState(t *testing.T) {
	fsm := newLifecycle()
	fsm.force(StateActive)
	if fsm.state() != StateActive {
		t.Fatalf("force 应直接覆盖状态，得到 %s", fsm.state())
	}
	fsm.force(StateSuperseded)
	if fsm.state() != StateSuperseded {
		t.Fatalf("force 应允许任意覆盖，得到 %s", fsm.state())
	}
}
