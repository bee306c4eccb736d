// Package generation 管理命名缓存代的生命周期：安装时预载清单资源，
// 激活时删除所有旧代，保证稳态下至多存在一个“当前代”。
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/cache"
)

// Preloader 抽象清单预载能力，便于测试注入假实现。
type Preloader interface {
	Preload(ctx context.Context, generation string, manifest []string) error
}

// Manager 把缓存代的 Install/Activate 编排在 cache.Store 之上。
// Install 必须先于同一代的 Activate 完成；激活删除逻辑始终以
// “不等于当前代” 为目标，因此无需额外记录上一代的名字。
type Manager struct {
	store     cache.Store
	preloader Preloader
	logger    *logrus.Logger
}

// NewManager 构造 Manager，所有依赖均为必填。
func NewManager(store cache.Store, preloader Preloader, logger *logrus.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if preloader == nil {
		return nil, errors.New("preloader required")
	}
	if logger == nil {
		return nil, errors.New("logger required")
	}
	return &Manager{store: store, preloader: preloader, logger: logger}, nil
}

// Install 为 id 预载全部清单资源。全有或全无：任一资源失败则返回错误，
// 该代不会被激活；已有的旧代保持原样，直到之后某次 Install 成功。
func (m *Manager) Install(ctx context.Context, id string, manifest []string) error {
	if id == "" {
		return errors.New("generation id required")
	}
	if len(manifest) == 0 {
		return errors.New("manifest required")
	}

	if err := m.preloader.Preload(ctx, id, manifest); err != nil {
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_install",
			"generation": id,
		}).Error(err.Error())
		return fmt.Errorf("install generation %s: %w", id, err)
	}

	m.logger.WithFields(logrus.Fields{
		"action":     "generation_install",
		"generation": id,
		"assets":     len(manifest),
	}).Info("缓存代安装完成")
	return nil
}

// Activate 删除所有名字不等于 id 的缓存代。删除不可回滚；
// 对已经只剩当前代的存储重复调用是 no-op。
func (m *Manager) Activate(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("generation id required")
	}

	names, err := m.store.Generations(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}

	for _, name := range names {
		if name == id {
			continue
		}
		if err := m.store.DeleteGeneration(ctx, name); err != nil {
			return fmt.Errorf("delete generation %s: %w", name, err)
		}
		m.logger.WithFields(logrus.Fields{
			"action":     "generation_evict",
			"generation": id,
			"evicted":    name,
		}).Info("旧缓存代已删除")
	}

	m.logger.WithFields(logrus.Fields{
		"action":     "generation_activate",
		"generation": id,
	}).Info("缓存代激活完成")
	return nil
}
