package mobile

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
	"github.com/shinyes/yep_cvrdt/pkg/hlc"
	"github.com/shinyes/yep_cvrdt/pkg/store"
)

var (
	ErrRootNotFound = errors.New("根节点不存在")
	ErrRootExists   = errors.New("根节点已存在")
	ErrWrongType    = errors.New("根节点类型不匹配")
	ErrForeignState = errors.New("快照属于其他节点")
)

// MobileReplica 把一个副本的若干具名 CRDT 包装成 gomobile 兼容的 API。
// gomobile 不支持 interface{} 返回值、泛型和复杂的 map，
// 因此读操作返回基本类型或 JSON 字符串，同步通过字节数组进行。
// 每次修改都会立即写入快照。
type MobileReplica struct {
	mu    sync.Mutex
	node  crdt.NodeID
	kv    *store.BadgerStore
	snaps *store.SnapshotStore
	clock *hlc.Clock
	roots map[string]crdt.CRDT
}

// NewMobileReplica 打开 dbPath 处的副本。nodeID 必须在重启之间保持不变。
func NewMobileReplica(dbPath, nodeID string) (*MobileReplica, error) {
	if nodeID == "" {
		return nil, crdt.ErrEmptyNodeID
	}
	kv, err := store.NewBadgerStore(dbPath)
	if err != nil {
		return nil, err
	}
	m := &MobileReplica{
		node:  crdt.NodeID(nodeID),
		kv:    kv,
		snaps: store.NewSnapshotStore(kv),
		clock: hlc.New(),
		roots: make(map[string]crdt.CRDT),
	}
	if err := m.load(); err != nil {
		_ = kv.Close()
		return nil, err
	}
	return m, nil
}

// NewMobileReplicaWithRandomID 使用新生成的节点 ID 打开副本，调用方应保存 NodeID() 的返回值。
func NewMobileReplicaWithRandomID(dbPath string) (*MobileReplica, error) {
	id, err := crdt.NewNodeID()
	if err != nil {
		return nil, err
	}
	return NewMobileReplica(dbPath, string(id))
}

func (m *MobileReplica) load() error {
	keys, err := m.snaps.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, err := m.snaps.Raw(key)
		if err != nil {
			return err
		}
		c, err := m.decode(raw)
		if err != nil {
			return fmt.Errorf("加载根节点 %s 失败: %w", key, err)
		}
		if owned, ok := c.(interface{ Node() crdt.NodeID }); ok && owned.Node() != m.node {
			return fmt.Errorf("%w: %s 属于 %s", ErrForeignState, key, owned.Node())
		}
		m.roots[key] = c
	}
	return nil
}

// decode 解析快照；本地寄存器挂上本副本的 HLC。
func (m *MobileReplica) decode(raw []byte) (crdt.CRDT, error) {
	if len(raw) > 0 && crdt.Type(raw[0]) == crdt.TypeLWW {
		reg, err := crdt.FromBytesLWW[[]byte](raw[1:], crdt.WithHLC(m.clock))
		if err != nil {
			return nil, err
		}
		if _, written := reg.Get(); written {
			m.clock.UpdateTime(reg.Stamp().Time())
		}
		return reg, nil
	}
	return store.Decode(raw)
}

func (m *MobileReplica) newRoot(t crdt.Type) (crdt.CRDT, error) {
	var (
		c   crdt.CRDT
		err error
	)
	switch t {
	case crdt.TypePNCounter:
		c, err = crdt.NewPNCounter(m.node)
	case crdt.TypeLWW:
		c = crdt.NewLWWRegister[[]byte](crdt.NewTiebreaker(), crdt.WithHLC(m.clock))
	case crdt.TypeORSet:
		c, err = crdt.NewORSet[string](m.node)
	case crdt.TypeORGraph:
		c, err = crdt.NewORGraph(m.node)
	default:
		return nil, fmt.Errorf("%w: 不支持作为根节点的类型 %s", ErrWrongType, t)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// clone 复制根节点，合并在副本上进行，持久化成功后才替换。
func clone(c crdt.CRDT) (crdt.CRDT, error) {
	switch v := c.(type) {
	case *crdt.PNCounter:
		return v.Clone(), nil
	case *crdt.LWWRegister[[]byte]:
		return v.Clone(), nil
	case *crdt.ORSet[string]:
		return v.Clone(), nil
	case *crdt.ORGraph:
		return v.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrWrongType, c.Type())
	}
}

// Close 关闭数据库连接。
func (m *MobileReplica) Close() error {
	return m.kv.Close()
}

// NodeID 返回当前节点 ID。
func (m *MobileReplica) NodeID() string {
	return string(m.node)
}

// ========== 根节点管理 ==========

func (m *MobileReplica) create(id string, t crdt.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roots[id]; ok {
		return fmt.Errorf("%w: %s", ErrRootExists, id)
	}
	c, err := m.newRoot(t)
	if err != nil {
		return err
	}
	if err := m.snaps.Save(id, c); err != nil {
		return err
	}
	m.roots[id] = c
	return nil
}

// CreateCounterRoot 创建一个 PNCounter 根节点。
func (m *MobileReplica) CreateCounterRoot(id string) error {
	return m.create(id, crdt.TypePNCounter)
}

// CreateRegisterRoot 创建一个保存字符串的 LWW 寄存器根节点。
func (m *MobileReplica) CreateRegisterRoot(id string) error {
	return m.create(id, crdt.TypeLWW)
}

// CreateSetRoot 创建一个 ORSet 根节点。
func (m *MobileReplica) CreateSetRoot(id string) error {
	return m.create(id, crdt.TypeORSet)
}

// CreateGraphRoot 创建一个 ORGraph 根节点。
func (m *MobileReplica) CreateGraphRoot(id string) error {
	return m.create(id, crdt.TypeORGraph)
}

// Exists 检查根节点是否存在。
func (m *MobileReplica) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roots[id]
	return ok
}

// DeleteRoot 删除根节点及其快照。
func (m *MobileReplica) DeleteRoot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roots[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRootNotFound, id)
	}
	if err := m.snaps.Delete(id); err != nil {
		return err
	}
	delete(m.roots, id)
	return nil
}

type rootInfo struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ListRootsAsJSON 列出所有根节点，按 ID 排序。
func (m *MobileReplica) ListRootsAsJSON() (string, error) {
	m.mu.Lock()
	out := make([]rootInfo, 0, len(m.roots))
	for id, c := range m.roots {
		out = append(out, rootInfo{ID: id, Type: c.Type().String()})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b rootInfo) int { return cmp.Compare(a.ID, b.ID) })
	return toJSON(out)
}

// ========== 类型化访问 ==========

func lookup[C crdt.CRDT](m *MobileReplica, id string) (C, error) {
	var zero C
	c, ok := m.roots[id]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrRootNotFound, id)
	}
	typed, ok := c.(C)
	if !ok {
		return zero, fmt.Errorf("%w: %s 是 %s", ErrWrongType, id, c.Type())
	}
	return typed, nil
}

// read 在持有锁的情况下读取根节点。
func read[C crdt.CRDT, R any](m *MobileReplica, id string, fn func(C) (R, error)) (R, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := lookup[C](m, id)
	if err != nil {
		var zero R
		return zero, err
	}
	return fn(c)
}

// mutate 修改根节点并写入快照。
func mutate[C crdt.CRDT](m *MobileReplica, id string, fn func(C) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := lookup[C](m, id)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return m.snaps.Save(id, c)
}

// ========== 计数器 ==========

// Inc 增加计数器。
func (m *MobileReplica) Inc(id string, amount int64) error {
	return mutate(m, id, func(c *crdt.PNCounter) error { return c.Increase(amount) })
}

// Dec 减少计数器。
func (m *MobileReplica) Dec(id string, amount int64) error {
	return mutate(m, id, func(c *crdt.PNCounter) error { return c.Decrease(amount) })
}

// GetInt 返回计数器的值。
func (m *MobileReplica) GetInt(id string) (int64, error) {
	return read(m, id, func(c *crdt.PNCounter) (int64, error) { return c.Int64(), nil })
}

// ========== 寄存器 ==========

// SetString 写入寄存器。
func (m *MobileReplica) SetString(id string, val string) error {
	return mutate(m, id, func(r *crdt.LWWRegister[[]byte]) error {
		r.Set([]byte(val))
		return nil
	})
}

// GetString 返回寄存器的值，从未写入时返回空字符串。
func (m *MobileReplica) GetString(id string) (string, error) {
	return read(m, id, func(r *crdt.LWWRegister[[]byte]) (string, error) {
		v, _ := r.Get()
		return string(v), nil
	})
}

// ========== 集合 ==========

// AddToSet 向集合添加元素。
func (m *MobileReplica) AddToSet(id string, value string) error {
	return mutate(m, id, func(s *crdt.ORSet[string]) error {
		s.Add(value)
		return nil
	})
}

// RemoveFromSet 从集合移除元素。
func (m *MobileReplica) RemoveFromSet(id string, value string) error {
	return mutate(m, id, func(s *crdt.ORSet[string]) error {
		s.Remove(value)
		return nil
	})
}

// SetContains 检查集合是否包含元素。
func (m *MobileReplica) SetContains(id string, value string) (bool, error) {
	return read(m, id, func(s *crdt.ORSet[string]) (bool, error) { return s.Has(value), nil })
}

// GetSetAsJSON 返回集合元素的 JSON 数组，按字典序排列。
func (m *MobileReplica) GetSetAsJSON(id string) (string, error) {
	return read(m, id, func(s *crdt.ORSet[string]) (string, error) {
		elems := s.Elements()
		slices.Sort(elems)
		return toJSON(elems)
	})
}

// ========== 图 ==========

// CreateVertex 创建顶点并返回它的令牌 (node:counter)。
func (m *MobileReplica) CreateVertex(id string) (string, error) {
	var out string
	err := mutate(m, id, func(g *crdt.ORGraph) error {
		out = g.CreateVertex().String()
		return nil
	})
	return out, err
}

// AddEdge 添加一条 from -> to 的边。
func (m *MobileReplica) AddEdge(id, from, to string) error {
	e, err := parseEdge(from, to)
	if err != nil {
		return err
	}
	return mutate(m, id, func(g *crdt.ORGraph) error {
		_, err := g.AddEdge(e.From, e.To)
		return err
	})
}

// RemoveEdge 移除 from -> to。
func (m *MobileReplica) RemoveEdge(id, from, to string) error {
	e, err := parseEdge(from, to)
	if err != nil {
		return err
	}
	return mutate(m, id, func(g *crdt.ORGraph) error { return g.RemoveEdge(e.From, e.To) })
}

// RemoveVertex 移除顶点及其所有边。
func (m *MobileReplica) RemoveVertex(id, vertex string) error {
	v, err := crdt.ParseToken(vertex)
	if err != nil {
		return err
	}
	return mutate(m, id, func(g *crdt.ORGraph) error { return g.RemoveVertex(v) })
}

type graphView struct {
	Vertices []string    `json:"vertices"`
	Edges    [][2]string `json:"edges"`
}

// GetGraphAsJSON 返回 {"vertices": [...], "edges": [[from, to], ...]}。
func (m *MobileReplica) GetGraphAsJSON(id string) (string, error) {
	return read(m, id, func(g *crdt.ORGraph) (string, error) {
		view := graphView{Vertices: []string{}, Edges: [][2]string{}}
		for _, v := range g.Vertices() {
			view.Vertices = append(view.Vertices, v.String())
		}
		for _, e := range g.Edges() {
			view.Edges = append(view.Edges, [2]string{e.From.String(), e.To.String()})
		}
		return toJSON(view)
	})
}

func parseEdge(from, to string) (crdt.Edge, error) {
	f, err := crdt.ParseToken(from)
	if err != nil {
		return crdt.Edge{}, err
	}
	t, err := crdt.ParseToken(to)
	if err != nil {
		return crdt.Edge{}, err
	}
	return crdt.Edge{From: f, To: t}, nil
}

// ========== 同步 ==========

// Export 返回根节点的快照字节，交给其他副本的 Merge。
func (m *MobileReplica) Export(id string) ([]byte, error) {
	return read(m, id, func(c crdt.CRDT) ([]byte, error) { return store.Encode(c) })
}

// Merge 合并其他副本导出的快照。根节点不存在时按快照的类型创建。
func (m *MobileReplica) Merge(id string, data []byte) error {
	remote, err := store.Decode(data)
	if err != nil {
		return err
	}
	if remote.Type() == crdt.TypeVectorClock {
		return fmt.Errorf("%w: 不支持作为根节点的类型 %s", ErrWrongType, remote.Type())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var local crdt.CRDT
	if cur, ok := m.roots[id]; ok {
		local, err = clone(cur)
	} else {
		local, err = m.newRoot(remote.Type())
	}
	if err != nil {
		return err
	}
	if err := local.Merge(remote); err != nil {
		return err
	}
	if err := m.snaps.Save(id, local); err != nil {
		return err
	}
	if reg, ok := remote.(*crdt.LWWRegister[[]byte]); ok {
		if _, written := reg.Get(); written {
			m.clock.UpdateTime(reg.Stamp().Time())
		}
	}
	m.roots[id] = local
	return nil
}

// GC 回收 node 发出的、计数器不超过 until 的令牌，返回丢弃的数量。
// 只有所有副本都已合并这些令牌相关的操作之后才能调用。
func (m *MobileReplica) GC(id, node string, until int64) (int64, error) {
	if until < 0 {
		return 0, fmt.Errorf("until 不能为负数: %d", until)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.roots[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRootNotFound, id)
	}
	gc, ok := c.(crdt.Compactor)
	if !ok {
		return 0, fmt.Errorf("%w: %s 不支持回收", ErrWrongType, c.Type())
	}
	dropped := gc.GC(crdt.NodeID(node), uint64(until))
	if dropped == 0 {
		return 0, nil
	}
	return int64(dropped), m.snaps.Save(id, c)
}

func toJSON(v any) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
