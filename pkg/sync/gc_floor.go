package sync

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
)

// GCFloor 根据各副本的确认计算令牌回收的安全下界。
//
// 每个副本（包括本地）以向量时钟报告它的状态已经包含了哪些事件：
// 对来源节点 O 确认 n，表示该副本已合并了与 O 的计数器 <= n 的令牌相关的
// 全部添加与移除。对 O 的下界取所有被跟踪副本确认值的最小值，
// 在下界以内回收 O 的令牌满足静默前提。
type GCFloor struct {
	local crdt.NodeID
	cfg   Config

	mu         sync.Mutex
	acks       map[crdt.NodeID]*crdt.VectorClock
	compactors map[string]crdt.Compactor
}

// NewGCFloor 创建一个协调器。local 是本地副本的节点 ID。
func NewGCFloor(local crdt.NodeID, opts ...Option) *GCFloor {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GCFloor{
		local:      local,
		cfg:        cfg,
		acks:       make(map[crdt.NodeID]*crdt.VectorClock),
		compactors: make(map[string]crdt.Compactor),
	}
}

// Observe 记录 peer 的确认，与已有确认逐点取最大值。
// peer 可以是本地节点自身。
func (f *GCFloor) Observe(peer crdt.NodeID, ack *crdt.VectorClock) error {
	if peer == "" {
		return fmt.Errorf("%w: empty peer id", ErrInvalidPeer)
	}
	if ack == nil {
		return fmt.Errorf("%w: nil clock from %s", ErrInvalidPeer, peer)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.acks[peer]
	if !ok {
		f.acks[peer] = ack.Copy()
		return nil
	}
	return cur.Merge(ack)
}

// Forget 不再跟踪已离开的副本。
func (f *GCFloor) Forget(peer crdt.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.acks[peer]; ok {
		delete(f.acks, peer)
		log.Printf("[GCFloor] forget peer=%s", peer)
	}
}

// Peers 返回被跟踪的副本（包括本地，如果已确认），按 ID 排序。
func (f *GCFloor) Peers() []crdt.NodeID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crdt.NodeID, 0, len(f.acks))
	for p := range f.acks {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// SetMinPeers 在成员变化后调整所需的远端确认数量。负数被忽略。
func (f *GCFloor) SetMinPeers(n int) {
	if n < 0 {
		return
	}
	f.mu.Lock()
	f.cfg.MinPeers = n
	f.mu.Unlock()
}

// Floor 返回 origin 的回收下界。
// 本地尚未确认、远端确认数量少于 MinPeers，或任一副本未确认 origin 时返回 false。
func (f *GCFloor) Floor(origin crdt.NodeID) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.floorLocked(origin)
}

func (f *GCFloor) floorLocked(origin crdt.NodeID) (uint64, bool) {
	if _, ok := f.acks[f.local]; !ok {
		return 0, false
	}
	remote := len(f.acks) - 1
	if remote < f.cfg.MinPeers {
		return 0, false
	}

	var floor uint64
	first := true
	for _, ack := range f.acks {
		n, ok := ack.Get(origin)
		if !ok {
			return 0, false
		}
		if first || n < floor {
			floor = n
			first = false
		}
	}
	return floor, true
}

// Register 注册一个参与回收的 CRDT（ORSet、ORGraph 等）。
func (f *GCFloor) Register(name string, c crdt.Compactor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.compactors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCompactor, name)
	}
	f.compactors[name] = c
	return nil
}

// Unregister 取消注册。
func (f *GCFloor) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.compactors, name)
}

// Compact 对每个有下界的来源节点，在所有已注册的 CRDT 上执行 GC(origin, floor)。
//
// 已注册的 CRDT 在回收期间不能被其他 goroutine 修改。
func (f *GCFloor) Compact() Result {
	start := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	res := Result{
		Floors:      make(map[crdt.NodeID]uint64),
		ByCompactor: make(map[string]int, len(f.compactors)),
	}

	origins := make(map[crdt.NodeID]struct{})
	for _, ack := range f.acks {
		for n := range ack.Clocks {
			origins[n] = struct{}{}
		}
	}

	names := make([]string, 0, len(f.compactors))
	for name := range f.compactors {
		names = append(names, name)
	}
	slices.Sort(names)

	for origin := range origins {
		floor, ok := f.floorLocked(origin)
		if !ok || floor == 0 {
			continue
		}
		res.Origins++
		res.Floors[origin] = floor
		for _, name := range names {
			n := f.compactors[name].GC(origin, floor)
			res.ByCompactor[name] += n
			res.Dropped += n
		}
	}

	res.Duration = time.Since(start)
	if res.Origins > 0 {
		log.Printf("[GCFloor] compact: origins=%d, dropped=%d, compactors=%d, duration=%v",
			res.Origins, res.Dropped, len(names), res.Duration)
	}
	return res
}

// Retire 把永久离开的 node 折叠进各计数器的基准值，并不再跟踪它。
//
// 只有在确认 node 不会再出现、且所有副本都已合并它的最终状态之后才能调用。
func (f *GCFloor) Retire(node crdt.NodeID, counters ...*crdt.PNCounter) {
	for _, c := range counters {
		if c != nil {
			c.GC(node)
		}
	}
	f.Forget(node)
	log.Printf("[GCFloor] retired node=%s, counters=%d", node, len(counters))
}
