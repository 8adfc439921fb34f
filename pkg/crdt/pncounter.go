package crdt

import (
	"fmt"
	"math"
)

// PNCounter 实现正负计数器：两个按节点记录的只增计数器。
//
// value = base + ΣP - ΣN。每个节点的条目只会增长
// （本地 Increase/Decrease 或合并取最大值）。
type PNCounter struct {
	node   NodeID
	base   int64            // GC 折叠进来的值
	cached int64            // base + ΣP - ΣN 的缓存
	P      map[NodeID]int64 // 每个节点的增量
	N      map[NodeID]int64 // 每个节点的减量
}

// PNCounterOption 配置 PNCounter。
type PNCounterOption func(*PNCounter)

// WithBaseValue 设置初始基准值。
func WithBaseValue(base int64) PNCounterOption {
	return func(c *PNCounter) {
		c.base = base
	}
}

// NewPNCounter 创建一个新的 PNCounter。node 不能为空。
func NewPNCounter(node NodeID, opts ...PNCounterOption) (*PNCounter, error) {
	if node == "" {
		return nil, ErrEmptyNodeID
	}
	return newPNCounter(node, opts...), nil
}

// MustNewPNCounter 与 NewPNCounter 相同，但 node 为空时 panic。
func MustNewPNCounter(node NodeID, opts ...PNCounterOption) *PNCounter {
	c, err := NewPNCounter(node, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func newPNCounter(node NodeID, opts ...PNCounterOption) *PNCounter {
	c := &PNCounter{
		node: node,
		P:    make(map[NodeID]int64),
		N:    make(map[NodeID]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recompute()
	return c
}

func (c *PNCounter) Type() Type {
	return TypePNCounter
}

func (c *PNCounter) Node() NodeID {
	return c.node
}

func (c *PNCounter) Value() any {
	return c.cached
}

// Int64 返回计数器的当前值。
func (c *PNCounter) Int64() int64 {
	return c.cached
}

// Base 返回 GC 折叠后的基准值。
func (c *PNCounter) Base() int64 {
	return c.base
}

// Increase 以本节点身份增加计数器。
func (c *PNCounter) Increase(amount int64) error {
	return c.IncreaseFrom(c.node, amount)
}

// Decrease 以本节点身份减少计数器。
func (c *PNCounter) Decrease(amount int64) error {
	return c.DecreaseFrom(c.node, amount)
}

// IncreaseFrom 把 amount 记到 source 的正向计数上。
func (c *PNCounter) IncreaseFrom(source NodeID, amount int64) error {
	if err := c.check(source, amount); err != nil {
		return err
	}
	c.P[source] += amount
	c.cached += amount
	return nil
}

// DecreaseFrom 把 amount 记到 source 的负向计数上。
func (c *PNCounter) DecreaseFrom(source NodeID, amount int64) error {
	if err := c.check(source, amount); err != nil {
		return err
	}
	c.N[source] += amount
	c.cached -= amount
	return nil
}

// Add 按符号分派：正数增加，负数按绝对值减少。
// math.MinInt64 的绝对值无法表示，返回 ErrInvalidOp。
func (c *PNCounter) Add(delta int64) error {
	switch {
	case delta == math.MinInt64:
		return fmt.Errorf("%w: 增量 %d 超出范围", ErrInvalidOp, delta)
	case delta < 0:
		return c.DecreaseFrom(c.node, -delta)
	default:
		return c.IncreaseFrom(c.node, delta)
	}
}

func (c *PNCounter) check(source NodeID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}
	if source == "" {
		return ErrEmptyNodeID
	}
	return nil
}

func (c *PNCounter) Merge(other CRDT) error {
	o, ok := other.(*PNCounter)
	if !ok {
		return mismatch(TypePNCounter, other)
	}

	mergeMax(c.P, o.P)
	mergeMax(c.N, o.N)
	c.recompute()
	return nil
}

func mergeMax[K comparable, V int64 | uint64](dest, src map[K]V) {
	for k, v := range src {
		if cur, ok := dest[k]; !ok || cur < v {
			dest[k] = v
		}
	}
}

// GC 把 node 的正负计数折叠进基准值并删除其条目。
//
// 只有在确认 node 已永久离开集群、以后的合并不会再带来它的状态时
// 才能调用；否则已回收的量会被重新加上，破坏收敛。
func (c *PNCounter) GC(node NodeID) {
	c.base += c.P[node]
	c.base -= c.N[node]
	delete(c.P, node)
	delete(c.N, node)
	c.recompute()
}

func (c *PNCounter) recompute() {
	total := c.base
	for _, v := range c.P {
		total += v
	}
	for _, v := range c.N {
		total -= v
	}
	c.cached = total
}

// Clone 返回一个独立的副本。
func (c *PNCounter) Clone() *PNCounter {
	out := newPNCounter(c.node, WithBaseValue(c.base))
	mergeMax(out.P, c.P)
	mergeMax(out.N, c.N)
	out.recompute()
	return out
}

// PNCounterState 是 PNCounter 的哈希表示。
type PNCounterState struct {
	NodeIdentity NodeID           `msgpack:"node_identity" json:"node_identity"`
	BaseValue    int64            `msgpack:"base_value" json:"base_value"`
	CachedValue  int64            `msgpack:"cached_value" json:"cached_value"`
	Positive     map[NodeID]int64 `msgpack:"positive" json:"positive"`
	Negative     map[NodeID]int64 `msgpack:"negative" json:"negative"`
}

// State 返回当前状态的副本。
func (c *PNCounter) State() PNCounterState {
	s := PNCounterState{
		NodeIdentity: c.node,
		BaseValue:    c.base,
		CachedValue:  c.cached,
		Positive:     make(map[NodeID]int64, len(c.P)),
		Negative:     make(map[NodeID]int64, len(c.N)),
	}
	mergeMax(s.Positive, c.P)
	mergeMax(s.Negative, c.N)
	return s
}

// PNCounterFromState 从哈希表示重建 PNCounter。
// 缓存值会重新计算，不信任输入中的 cached_value。
func PNCounterFromState(s PNCounterState) (*PNCounter, error) {
	if s.NodeIdentity == "" {
		return nil, invalidState(TypePNCounter, "缺少 node_identity")
	}
	if s.Positive == nil || s.Negative == nil {
		return nil, invalidState(TypePNCounter, "缺少 positive 或 negative")
	}
	c := newPNCounter(s.NodeIdentity, WithBaseValue(s.BaseValue))
	for n, v := range s.Positive {
		if v < 0 {
			return nil, invalidState(TypePNCounter, fmt.Sprintf("节点 %s 的正向计数为负", n))
		}
		c.P[n] = v
	}
	for n, v := range s.Negative {
		if v < 0 {
			return nil, invalidState(TypePNCounter, fmt.Sprintf("节点 %s 的负向计数为负", n))
		}
		c.N[n] = v
	}
	c.recompute()
	return c, nil
}

func (c *PNCounter) Bytes() ([]byte, error) {
	return encodeState(c.State())
}

// FromBytesPNCounter 反序列化 PNCounter。
func FromBytesPNCounter(data []byte) (*PNCounter, error) {
	var s PNCounterState
	if err := decodeState(TypePNCounter, data, &s); err != nil {
		return nil, err
	}
	return PNCounterFromState(s)
}
