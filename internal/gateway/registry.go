package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 已启用网关集合，primary 用于发起收银台
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	primary  string
}

// NewRegistry 创建网关注册表
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register 注册网关；首个注册的网关默认为 primary
func (r *Registry) Register(gw Gateway) {
	if gw == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(gw.Name()))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = gw
	if r.primary == "" {
		r.primary = name
	}
}

// SetPrimary 指定发起收银台的网关
func (r *Registry) SetPrimary(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gateways[name]; !ok {
		return fmt.Errorf("%w: gateway %q is not registered", ErrConfigInvalid, name)
	}
	r.primary = name
	return nil
}

// Get 按名称获取网关
func (r *Registry) Get(name string) (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	return gw, ok
}

// Primary 返回主网关
func (r *Registry) Primary() (Gateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primary == "" {
		return nil, false
	}
	gw, ok := r.gateways[r.primary]
	return gw, ok
}

// Names 返回已注册的网关名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
