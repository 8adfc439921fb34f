package main

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
	"github.com/shinyes/yep_cvrdt/pkg/hlc"
	"github.com/shinyes/yep_cvrdt/pkg/store"
	ysync "github.com/shinyes/yep_cvrdt/pkg/sync"
)

// 快照键
const (
	keyViews  = "views"
	keyClock  = "clock"
	keyTitle  = "title"
	keyTags   = "tags"
	keyGraph  = "graph"
	titleSpan = 1 // 快照首字节是类型
)

// replica 是一个副本持有的全部 CRDT。mu 串行化所有修改与回收。
type replica struct {
	id    crdt.NodeID
	mu    sync.Mutex
	hlc   *hlc.Clock
	snaps *store.SnapshotStore

	views *crdt.PNCounter
	clock *crdt.VectorClock // 本副本的事件时钟
	title *crdt.LWWRegister[[]byte]
	tags  *crdt.ORSet[string]
	graph *crdt.ORGraph

	// 令牌计数器按 CRDT 实例独立，所以每个可回收的 CRDT 各有一个下界。
	tagsFloor  *ysync.GCFloor
	graphFloor *ysync.GCFloor
	tagsGC     *ysync.GCManager
	graphGC    *ysync.GCManager
}

// cluster 在单进程中模拟若干副本，通过快照字节交换状态。
type cluster struct {
	stores   *store.MultiStore
	replicas map[crdt.NodeID]*replica
	order    []crdt.NodeID
}

func newCluster(root string, ids []string, opts ...store.BadgerOption) (*cluster, error) {
	c := &cluster{
		stores:   store.NewMultiStore(root, opts...),
		replicas: make(map[crdt.NodeID]*replica, len(ids)),
	}
	for _, raw := range ids {
		id := crdt.NodeID(raw)
		if _, dup := c.replicas[id]; dup {
			c.Close()
			return nil, fmt.Errorf("重复的副本 ID: %s", id)
		}
		r, err := c.open(id, len(ids)-1)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.replicas[id] = r
		c.order = append(c.order, id)
	}
	return c, nil
}

// open 打开副本的存储，有快照时从快照恢复，否则创建空状态。
// peers 是其余副本的数量，回收需要它们全部确认。
func (c *cluster) open(id crdt.NodeID, peers int) (*replica, error) {
	kv, err := c.stores.Get(string(id))
	if err != nil {
		return nil, err
	}
	r := &replica{
		id:    id,
		hlc:   hlc.New(),
		snaps: store.NewSnapshotStore(kv),
	}
	restored, err := r.load()
	if err != nil {
		return nil, fmt.Errorf("恢复副本 %s 失败: %w", id, err)
	}
	if !restored {
		if r.views, err = crdt.NewPNCounter(id); err != nil {
			return nil, err
		}
		r.clock = crdt.NewVectorClock(id)
		r.title = crdt.NewLWWRegister[[]byte](crdt.NewTiebreaker(), crdt.WithHLC(r.hlc))
		if r.tags, err = crdt.NewORSet[string](id); err != nil {
			return nil, err
		}
		if r.graph, err = crdt.NewORGraph(id); err != nil {
			return nil, err
		}
	}
	r.tagsFloor = ysync.NewGCFloor(id, ysync.WithMinPeers(peers))
	r.graphFloor = ysync.NewGCFloor(id, ysync.WithMinPeers(peers))
	if err := r.tagsFloor.Register(keyTags, r.tags); err != nil {
		return nil, err
	}
	if err := r.graphFloor.Register(keyGraph, r.graph); err != nil {
		return nil, err
	}
	r.tagsGC = ysync.NewGCManager(r.tagsFloor, &r.mu)
	r.graphGC = ysync.NewGCManager(r.graphFloor, &r.mu)
	return r, nil
}

func (c *cluster) get(id string) (*replica, error) {
	r, ok := c.replicas[crdt.NodeID(id)]
	if !ok {
		return nil, fmt.Errorf("未知副本: %s", id)
	}
	return r, nil
}

func (c *cluster) Close() error {
	return c.stores.CloseAll()
}

// load 从快照恢复全部 CRDT。没有任何快照时返回 false。
func (r *replica) load() (bool, error) {
	keys, err := r.snaps.Keys()
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	views, err := loadAs[*crdt.PNCounter](r.snaps, keyViews)
	if err != nil {
		return false, err
	}
	clock, err := loadAs[*crdt.VectorClock](r.snaps, keyClock)
	if err != nil {
		return false, err
	}
	tags, err := loadAs[*crdt.ORSet[string]](r.snaps, keyTags)
	if err != nil {
		return false, err
	}
	graph, err := loadAs[*crdt.ORGraph](r.snaps, keyGraph)
	if err != nil {
		return false, err
	}

	// 寄存器需要挂上本副本的 HLC，所以直接解码原始字节。
	raw, err := r.snaps.Raw(keyTitle)
	if err != nil {
		return false, err
	}
	if len(raw) < titleSpan || crdt.Type(raw[0]) != crdt.TypeLWW {
		return false, fmt.Errorf("%s 快照不是 LWW 寄存器", keyTitle)
	}
	title, err := crdt.FromBytesLWW[[]byte](raw[titleSpan:], crdt.WithHLC(r.hlc))
	if err != nil {
		return false, err
	}
	if _, written := title.Get(); written {
		r.hlc.UpdateTime(title.Stamp().Time())
	}

	r.views, r.clock, r.title, r.tags, r.graph = views, clock, title, tags, graph
	log.Printf("[Demo] replica %s restored from %d snapshots", r.id, len(keys))
	return true, nil
}

func loadAs[C crdt.CRDT](ss *store.SnapshotStore, key string) (C, error) {
	var zero C
	c, err := ss.Load(key)
	if err != nil {
		return zero, fmt.Errorf("加载 %s: %w", key, err)
	}
	typed, ok := c.(C)
	if !ok {
		return zero, fmt.Errorf("%s 快照类型错误: %s", key, c.Type())
	}
	return typed, nil
}

// save 把全部 CRDT 写入本副本的快照存储。
func (r *replica) save() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, c := range r.all() {
		if err := r.snaps.Save(key, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *replica) all() map[string]crdt.CRDT {
	return map[string]crdt.CRDT{
		keyViews: r.views,
		keyClock: r.clock,
		keyTitle: r.title,
		keyTags:  r.tags,
		keyGraph: r.graph,
	}
}

// tick 记录一次本地事件。调用方持有 mu。
func (r *replica) tick() {
	r.clock.Increment()
}

// payload 是副本之间传输的快照字节。
type payload map[string][]byte

func (r *replica) export() (payload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(payload, 5)
	for key, c := range r.all() {
		data, err := store.Encode(c)
		if err != nil {
			return nil, err
		}
		out[key] = data
	}
	return out, nil
}

// absorb 解码对方的快照并合并进本副本。
func (r *replica) absorb(p payload) error {
	decoded := make(map[string]crdt.CRDT, len(p))
	for key, data := range p {
		c, err := store.Decode(data)
		if err != nil {
			return fmt.Errorf("解码 %s: %w", key, err)
		}
		decoded[key] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, local := range r.all() {
		remote, ok := decoded[key]
		if !ok {
			continue
		}
		if err := local.Merge(remote); err != nil {
			errs = append(errs, fmt.Errorf("合并 %s: %w", key, err))
		}
	}
	if reg, ok := decoded[keyTitle].(*crdt.LWWRegister[[]byte]); ok {
		if _, written := reg.Get(); written {
			r.hlc.UpdateTime(reg.Stamp().Time())
		}
	}
	return errors.Join(errs...)
}

// syncPair 把 from 的状态发给 to。
func (c *cluster) syncPair(from, to *replica) error {
	p, err := from.export()
	if err != nil {
		return err
	}
	if err := to.absorb(p); err != nil {
		return fmt.Errorf("%s -> %s: %w", from.id, to.id, err)
	}
	return nil
}

// syncAll 让每个副本把状态发给其他所有副本，两轮之后所有副本相同。
func (c *cluster) syncAll() error {
	for range 2 {
		for _, a := range c.order {
			for _, b := range c.order {
				if a == b {
					continue
				}
				if err := c.syncPair(c.replicas[a], c.replicas[b]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// compact 先让集群静默，再以各副本的前沿作为确认执行回收。
func (c *cluster) compact() (map[crdt.NodeID]int, error) {
	if err := c.syncAll(); err != nil {
		return nil, err
	}

	type ack struct {
		id    crdt.NodeID
		tags  *crdt.VectorClock
		graph *crdt.VectorClock
	}
	acks := make([]ack, 0, len(c.order))
	for _, id := range c.order {
		r := c.replicas[id]
		r.mu.Lock()
		acks = append(acks, ack{id: id, tags: r.tags.Frontier(), graph: r.graph.Frontier()})
		r.mu.Unlock()
	}

	dropped := make(map[crdt.NodeID]int, len(c.order))
	for _, id := range c.order {
		r := c.replicas[id]
		for _, a := range acks {
			if err := r.tagsFloor.Observe(a.id, a.tags); err != nil {
				return nil, err
			}
			if err := r.graphFloor.Observe(a.id, a.graph); err != nil {
				return nil, err
			}
		}
		dropped[id] = r.tagsGC.RunOnce().Dropped + r.graphGC.RunOnce().Dropped
	}
	return dropped, nil
}

// retire 把离开集群的副本 id 从其余副本的计数器中折叠掉。
func (c *cluster) retire(id crdt.NodeID) error {
	if _, ok := c.replicas[id]; !ok {
		return fmt.Errorf("未知副本: %s", id)
	}
	if err := c.syncAll(); err != nil {
		return err
	}
	for _, other := range c.order {
		if other == id {
			continue
		}
		r := c.replicas[other]
		r.mu.Lock()
		r.tagsFloor.Forget(id)
		r.graphFloor.Retire(id, r.views)
		r.mu.Unlock()
		r.tagsFloor.SetMinPeers(len(c.order) - 2)
		r.graphFloor.SetMinPeers(len(c.order) - 2)
	}

	delete(c.replicas, id)
	c.order = slices.DeleteFunc(c.order, func(n crdt.NodeID) bool { return n == id })
	return c.stores.Close(string(id))
}
