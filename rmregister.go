package goxa

import (
	"errors"
	"fmt"
	"sync"
)

// ResourceManagerRegistry 资源管理器名称到连接工厂的映射，按注册顺序遍历
type ResourceManagerRegistry struct {
	mux        sync.RWMutex
	names      []string
	connectors map[string]Connector
}

func NewResourceManagerRegistry() *ResourceManagerRegistry {
	return &ResourceManagerRegistry{
		connectors: make(map[string]Connector),
	}
}

func (r *ResourceManagerRegistry) Register(name string, connector Connector) error {
	if name == "" || connector == nil {
		return errors.New("invalid resource manager registration")
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.connectors[name]; ok {
		return fmt.Errorf("repeat resource manager: %s", name)
	}
	r.connectors[name] = connector
	r.names = append(r.names, name)
	return nil
}

func (r *ResourceManagerRegistry) Deregister(name string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.connectors[name]; !ok {
		return false
	}
	delete(r.connectors, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i:i], r.names[i+1:]...)
			break
		}
	}
	return true
}

func (r *ResourceManagerRegistry) Connector(name string) (Connector, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	connector, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("resource manager: %s not existed", name)
	}
	return connector, nil
}

// Names 返回注册顺序的一份拷贝
func (r *ResourceManagerRegistry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return append([]string{}, r.names...)
}
