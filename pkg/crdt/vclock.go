package crdt

import (
	"fmt"
	"slices"
	"strings"
)

// VectorClock 表示一个版本向量：NodeID -> 计数器。
// 只有拥有者节点才递增自己的条目；条目只增不减。
type VectorClock struct {
	node   NodeID
	Clocks map[NodeID]uint64
}

// NewVectorClock 创建属于 node 的向量时钟。
func NewVectorClock(node NodeID) *VectorClock {
	return &VectorClock{
		node:   node,
		Clocks: make(map[NodeID]uint64),
	}
}

func (vc *VectorClock) Type() Type {
	return TypeVectorClock
}

func (vc *VectorClock) Node() NodeID {
	return vc.node
}

// Value 返回时钟条目的副本。
func (vc *VectorClock) Value() any {
	return vc.Copy().Clocks
}

// Increment 递增本节点的时钟并返回新值。
func (vc *VectorClock) Increment() uint64 {
	return vc.IncrementNode(vc.node)
}

// IncrementNode 递增指定节点的时钟。
func (vc *VectorClock) IncrementNode(node NodeID) uint64 {
	vc.Clocks[node]++
	return vc.Clocks[node]
}

// Get 返回节点的计数器；不存在时 ok 为 false。
func (vc *VectorClock) Get(node NodeID) (uint64, bool) {
	v, ok := vc.Clocks[node]
	return v, ok
}

// Advance 把节点的条目提升到至少 counter。
func (vc *VectorClock) Advance(node NodeID, counter uint64) {
	if vc.Clocks[node] < counter {
		vc.Clocks[node] = counter
	}
}

func (vc *VectorClock) Merge(other CRDT) error {
	o, ok := other.(*VectorClock)
	if !ok {
		return mismatch(TypeVectorClock, other)
	}
	mergeMax(vc.Clocks, o.Clocks)
	return nil
}

// Ordering 是两个向量时钟之间的因果关系。
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Compare 返回 vc 相对于 other 的关系。缺失的条目按 0 处理。
//   - Equal:      所有条目相等
//   - Before:     所有条目 <=，且至少一个 <
//   - After:      所有条目 >=，且至少一个 >
//   - Concurrent: 互不支配
func (vc *VectorClock) Compare(other *VectorClock) Ordering {
	var less, greater bool
	for n, v := range vc.Clocks {
		if o := other.Clocks[n]; v < o {
			less = true
		} else if v > o {
			greater = true
		}
	}
	for n, o := range other.Clocks {
		if _, seen := vc.Clocks[n]; !seen && o > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// Dominates 报告 vc 是否支配 other：对所有节点 vc[n] >= other[n]。
func (vc *VectorClock) Dominates(other *VectorClock) bool {
	c := vc.Compare(other)
	return c == After || c == Equal
}

// Descends 是 Dominates 的别名。
func (vc *VectorClock) Descends(other *VectorClock) bool {
	return vc.Dominates(other)
}

// ConcurrentWith 报告两个时钟是否互不支配。
func (vc *VectorClock) ConcurrentWith(other *VectorClock) bool {
	return vc.Compare(other) == Concurrent
}

// Equal 报告两个时钟是否在语义上相等（缺失条目等同于 0）。
func (vc *VectorClock) Equal(other *VectorClock) bool {
	return vc.Compare(other) == Equal
}

// Copy 返回深拷贝。
func (vc *VectorClock) Copy() *VectorClock {
	out := NewVectorClock(vc.node)
	mergeMax(out.Clocks, vc.Clocks)
	return out
}

func (vc *VectorClock) String() string {
	if len(vc.Clocks) == 0 {
		return "{}"
	}
	nodes := make([]NodeID, 0, len(vc.Clocks))
	for n := range vc.Clocks {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, fmt.Sprintf("%s:%d", n, vc.Clocks[n]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// VectorClockState 是 VectorClock 的哈希表示。
// node_identity 可选；缺失时重建出的时钟没有默认节点。
type VectorClockState struct {
	NodeIdentity NodeID            `msgpack:"node_identity,omitempty" json:"node_identity,omitempty"`
	Clocks       map[NodeID]uint64 `msgpack:"clocks" json:"clocks"`
}

func (vc *VectorClock) State() VectorClockState {
	return VectorClockState{NodeIdentity: vc.node, Clocks: vc.Copy().Clocks}
}

// VectorClockFromState 从哈希表示重建 VectorClock。
func VectorClockFromState(s VectorClockState) (*VectorClock, error) {
	if s.Clocks == nil {
		return nil, invalidState(TypeVectorClock, "缺少 clocks")
	}
	vc := NewVectorClock(s.NodeIdentity)
	mergeMax(vc.Clocks, s.Clocks)
	return vc, nil
}

func (vc *VectorClock) Bytes() ([]byte, error) {
	return encodeState(vc.State())
}

// FromBytesVectorClock 反序列化 VectorClock。
func FromBytesVectorClock(data []byte) (*VectorClock, error) {
	var s VectorClockState
	if err := decodeState(TypeVectorClock, data, &s); err != nil {
		return nil, err
	}
	return VectorClockFromState(s)
}
