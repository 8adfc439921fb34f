package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MultiStore 管理多个 Store 实例，每个副本一个。
// 在单进程中模拟多个副本时使用，每个副本的快照放在 rootPath 下自己的目录里。
type MultiStore struct {
	rootPath string
	options  []BadgerOption
	mu       sync.RWMutex
	stores   map[string]*BadgerStore
}

// NewMultiStore 创建一个新的 MultiStore 管理器。
// rootPath 是存储所有副本数据库的目录。
func NewMultiStore(rootPath string, options ...BadgerOption) *MultiStore {
	return &MultiStore{
		rootPath: rootPath,
		options:  options,
		stores:   make(map[string]*BadgerStore),
	}
}

// validateReplicaID 拒绝不能安全用作单级目录名的 ID。
func validateReplicaID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("invalid replica id %q: empty", id)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("invalid replica id %q: reserved name", id)
	}
	if strings.ContainsAny(id, `/\:`) || filepath.IsAbs(id) || filepath.VolumeName(id) != "" {
		return fmt.Errorf("invalid replica id %q: contains path separator", id)
	}
	return nil
}

// Get 返回给定副本的 Store。
// 如果存储尚未打开，它将打开存储。
func (m *MultiStore) Get(replicaID string) (Store, error) {
	if err := validateReplicaID(replicaID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.stores[replicaID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 双重检查
	if s, ok := m.stores[replicaID]; ok {
		return s, nil
	}

	dbPath := filepath.Join(m.rootPath, replicaID)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create replica directory: %w", err)
	}

	store, err := NewBadgerStore(dbPath, m.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica store: %w", err)
	}

	m.stores[replicaID] = store
	return store, nil
}

// Close 关闭给定副本的存储。
func (m *MultiStore) Close(replicaID string) error {
	if err := validateReplicaID(replicaID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[replicaID]
	if !ok {
		return nil
	}

	delete(m.stores, replicaID)
	return s.Close()
}

// CloseAll 关闭所有打开的存储。
func (m *MultiStore) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, s := range m.stores {
		if err := s.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(m.stores, id)
	}
	return firstErr
}
