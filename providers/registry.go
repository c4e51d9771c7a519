package providers

import (
	"sort"
	"sync"

	"github.com/BaSui01/chatrelay/types"
)

// Registry 模型名 → SiteDriver 的映射。
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]SiteDriver // by provider id
	byModel map[string]SiteDriver
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]SiteDriver),
		byModel: make(map[string]SiteDriver),
	}
}

// Register 注册一个驱动及其全部模型。
func (r *Registry) Register(d SiteDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID()] = d
	for _, m := range d.SupportedModels() {
		r.byModel[m] = d
	}
}

// ByModel 按模型名解析驱动。
func (r *Registry) ByModel(model string) (SiteDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byModel[model]
	if !ok {
		return nil, types.NewError(types.ErrModelNotFound, "unknown model: "+model)
	}
	return d, nil
}

// ByID 按 provider id 解析驱动。
func (r *Registry) ByID(id string) (SiteDriver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	return d, ok
}

// Models 返回全部已注册模型名（字典序）。
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
