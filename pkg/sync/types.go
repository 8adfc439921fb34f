package sync

import (
	"time"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
)

// Config 控制 GC 协调参数。
type Config struct {
	MinPeers   int           // 至少收到多少个远端节点的确认才允许回收。
	GCInterval time.Duration // GCManager 的执行间隔。
	GCTimeout  time.Duration // 单次回收耗时超过该阈值时记录日志。
}

// Option 用于修改 Config。
type Option func(*Config)

// WithMinPeers 设置回收前所需的最少远端确认数量。
func WithMinPeers(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MinPeers = n
		}
	}
}

// WithGCInterval 设置 GC 执行间隔。
func WithGCInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.GCInterval = interval
		}
	}
}

// WithGCTimeout 设置慢回收的日志阈值。
func WithGCTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.GCTimeout = timeout
		}
	}
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MinPeers:   1,
		GCInterval: 1 * time.Minute,
		GCTimeout:  30 * time.Second,
	}
}

// Result 汇总一次回收的结果。
type Result struct {
	Origins     int                    // 有安全下界的来源节点数量。
	Floors      map[crdt.NodeID]uint64 // 每个来源节点使用的下界。
	Dropped     int                    // 丢弃的令牌与顶点总数。
	ByCompactor map[string]int         // 按注册名统计的丢弃数量。
	Duration    time.Duration
}
