package sync

import (
	"context"
	"log"
	"sync"
	"time"
)

// GCManager 按固定间隔调用 GCFloor.Compact。
type GCManager struct {
	floor    *GCFloor
	interval time.Duration
	timeout  time.Duration
	guard    sync.Locker
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	// 统计信息
	stats struct {
		sync.RWMutex
		totalRuns       int64
		productiveRuns  int64
		totalDropped    int64
		lastRunDuration time.Duration
	}
}

// NewGCManager 创建 GC 管理器。
// guard 在每次回收期间被持有；修改已注册 CRDT 的代码必须持有同一把锁。
// guard 为 nil 时由调用方保证回收期间没有并发修改。
func NewGCManager(floor *GCFloor, guard sync.Locker) *GCManager {
	return &GCManager{
		floor:    floor,
		interval: floor.cfg.GCInterval,
		timeout:  floor.cfg.GCTimeout,
		guard:    guard,
	}
}

// Start 启动 GC
func (gm *GCManager) Start(ctx context.Context) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if gm.cancel != nil {
		return
	}
	gm.ctx, gm.cancel = context.WithCancel(ctx)
	gm.done = make(chan struct{})

	ticker := time.NewTicker(gm.interval)
	go func(ctx context.Context, done chan struct{}) {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gm.RunOnce()
			}
		}
	}(gm.ctx, gm.done)

	log.Printf("[GCManager] started: interval=%v", gm.interval)
}

// RunOnce 立即执行一次回收。
func (gm *GCManager) RunOnce() Result {
	if gm.guard != nil {
		gm.guard.Lock()
		defer gm.guard.Unlock()
	}

	res := gm.floor.Compact()
	if gm.timeout > 0 && res.Duration >= gm.timeout {
		log.Printf("[GCManager] slow compaction: duration=%v, threshold=%v", res.Duration, gm.timeout)
	}

	gm.stats.Lock()
	gm.stats.totalRuns++
	if res.Dropped > 0 {
		gm.stats.productiveRuns++
	}
	gm.stats.totalDropped += int64(res.Dropped)
	gm.stats.lastRunDuration = res.Duration
	gm.stats.Unlock()
	return res
}

// Stop 停止 GC 并等待后台 goroutine 退出。
func (gm *GCManager) Stop() {
	gm.mu.Lock()
	cancel, done := gm.cancel, gm.done
	gm.cancel, gm.done = nil, nil
	gm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Println("[GCManager] stopped")
}

// Stats 是 GCManager 的累计统计。
type Stats struct {
	TotalRuns       int64
	ProductiveRuns  int64
	TotalDropped    int64
	LastRunDuration time.Duration
}

// GetStats 获取GC统计信息
func (gm *GCManager) GetStats() Stats {
	gm.stats.RLock()
	defer gm.stats.RUnlock()

	return Stats{
		TotalRuns:       gm.stats.totalRuns,
		ProductiveRuns:  gm.stats.productiveRuns,
		TotalDropped:    gm.stats.totalDropped,
		LastRunDuration: gm.stats.lastRunDuration,
	}
}
