package auth

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnauthorized 调用方缺少所需能力
var ErrUnauthorized = errors.New("unauthorized")

// Manager 授权管理器
// 单一管理员身份在构造后不可变；管理员可授予/回收manager能力
// manager能力只约束揭示请求，提交反馈对任意调用方开放
type Manager struct {
	admin    string
	mu       sync.RWMutex
	managers map[string]bool
}

// NewManager 创建新的授权管理器
func NewManager(admin string) *Manager {
	return &Manager{
		admin:    admin,
		managers: make(map[string]bool),
	}
}

// Admin 获取管理员身份
func (m *Manager) Admin() string {
	return m.admin
}

// GrantManager 授予manager能力（仅管理员可调用）
func (m *Manager) GrantManager(caller, target string) error {
	if caller != m.admin {
		return fmt.Errorf("%w: %s 不是管理员", ErrUnauthorized, caller)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.managers[target] = true
	fmt.Printf("[授权] %s 被授予manager能力\n", target)
	return nil
}

// RevokeManager 回收manager能力（仅管理员可调用）
func (m *Manager) RevokeManager(caller, target string) error {
	if caller != m.admin {
		return fmt.Errorf("%w: %s 不是管理员", ErrUnauthorized, caller)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.managers, target)
	fmt.Printf("[授权] %s 的manager能力被回收\n", target)
	return nil
}

// IsManager 判断身份是否持有manager能力（管理员视为manager）
func (m *Manager) IsManager(id string) bool {
	if id == m.admin {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.managers[id]
}

// Managers 获取当前所有manager身份
func (m *Manager) Managers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id := range m.managers {
		out = append(out, id)
	}
	return out
}
