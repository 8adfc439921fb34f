package crdt

import (
	"iter"
)

// ORSet 实现观察-移除 (Observed-Remove) 集合，添加胜出。
//
// 每次添加都发放一个唯一令牌；移除把该元素当前观察到的令牌
// 全部移入墓碑。元素存在当且仅当 observed \ removed 非空。
type ORSet[T comparable] struct {
	tokens tokenIssuer
	items  map[T]*ledger
}

// TokenOption 配置 ORSet 或 ORGraph 的令牌发放。
type TokenOption func(*tokenIssuer)

// WithTokenCounter 从已持久化的计数器继续发放令牌。
func WithTokenCounter(counter uint64) TokenOption {
	return func(i *tokenIssuer) {
		i.counter = counter
	}
}

// NewORSet 创建一个新的 ORSet。令牌以 node 署名，因此 node 不能为空。
func NewORSet[T comparable](node NodeID, opts ...TokenOption) (*ORSet[T], error) {
	if node == "" {
		return nil, ErrEmptyNodeID
	}
	return newORSet[T](node, opts...), nil
}

// MustNewORSet 与 NewORSet 相同，但 node 为空时 panic。
func MustNewORSet[T comparable](node NodeID, opts ...TokenOption) *ORSet[T] {
	s, err := NewORSet[T](node, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func newORSet[T comparable](node NodeID, opts ...TokenOption) *ORSet[T] {
	s := &ORSet[T]{
		tokens: tokenIssuer{node: node},
		items:  make(map[T]*ledger),
	}
	for _, opt := range opts {
		opt(&s.tokens)
	}
	return s
}

func (s *ORSet[T]) Type() Type {
	return TypeORSet
}

func (s *ORSet[T]) Node() NodeID {
	return s.tokens.node
}

// TokenCounter 返回最近发放的令牌计数器。
func (s *ORSet[T]) TokenCounter() uint64 {
	return s.tokens.counter
}

// Value 返回当前存在的元素。
func (s *ORSet[T]) Value() any {
	return s.Elements()
}

// Add 添加元素并返回新发放的令牌。
func (s *ORSet[T]) Add(v T) Token {
	l, ok := s.items[v]
	if !ok {
		l = newLedger()
		s.items[v] = l
	}
	t := s.tokens.issue()
	l.observed.Add(t)
	return t
}

// Remove 移除元素：当前观察到的令牌全部成为墓碑。
// 移除不存在的元素不做任何事。
func (s *ORSet[T]) Remove(v T) {
	if l, ok := s.items[v]; ok {
		l.retire()
	}
}

// Has 报告元素是否存在。
func (s *ORSet[T]) Has(v T) bool {
	l, ok := s.items[v]
	return ok && l.present()
}

// Contains 是 Has 的别名。
func (s *ORSet[T]) Contains(v T) bool {
	return s.Has(v)
}

// All 返回当前存在元素的惰性序列，可以重复遍历。
func (s *ORSet[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v, l := range s.items {
			if !l.present() {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Elements 返回当前存在的元素，顺序不保证。
func (s *ORSet[T]) Elements() []T {
	out := make([]T, 0, len(s.items))
	for v := range s.All() {
		out = append(out, v)
	}
	return out
}

// Len 返回当前存在的元素数量。
func (s *ORSet[T]) Len() int {
	n := 0
	for range s.All() {
		n++
	}
	return n
}

// Tokens 返回元素当前的 observed 与 removed 令牌，主要用于诊断。
func (s *ORSet[T]) Tokens(v T) (observed, removed []Token) {
	l, ok := s.items[v]
	if !ok {
		return nil, nil
	}
	return l.observed.Sorted(), l.removed.Sorted()
}

func (s *ORSet[T]) Merge(other CRDT) error {
	o, ok := other.(*ORSet[T])
	if !ok {
		return mismatch(TypeORSet, other)
	}

	for v, ol := range o.items {
		l, ok := s.items[v]
		if !ok {
			l = newLedger()
			s.items[v] = l
		}
		l.join(ol)
		for t := range l.observed {
			s.tokens.observe(t)
		}
		for t := range l.removed {
			s.tokens.observe(t)
		}
	}
	return nil
}

// Frontier 返回本副本见过的每个节点的最大令牌计数器。
// 在静默点上，它可以作为本副本对 GCFloor 的确认。
func (s *ORSet[T]) Frontier() *VectorClock {
	vc := NewVectorClock(s.tokens.node)
	vc.Advance(s.tokens.node, s.tokens.counter)
	for _, l := range s.items {
		l.advance(vc)
	}
	return vc
}

// GC 回收 node 发出的、计数器 <= until 的令牌，返回丢弃的令牌数量。
//
// 墓碑被丢弃；每个元素在 observed 中只保留 node 的最大令牌
// （在添加/移除成对出现时，每个节点每个元素至多有一个活跃令牌）。
// 其他节点的令牌不受影响。两个账本都为空的元素被物理删除。
//
// 调用方必须保证静默：以后的合并不会再引入 node 计数器 <= until 的令牌。
func (s *ORSet[T]) GC(node NodeID, until uint64) int {
	dropped := 0
	for v, l := range s.items {
		dropped += l.compact(node, until)
		if len(l.observed) == 0 && len(l.removed) == 0 {
			delete(s.items, v)
		}
	}
	return dropped
}

// Clone 返回一个独立的副本。
func (s *ORSet[T]) Clone() *ORSet[T] {
	out := newORSet[T](s.tokens.node, WithTokenCounter(s.tokens.counter))
	for v, l := range s.items {
		out.items[v] = l.clone()
	}
	return out
}

// Equal 报告两个集合的账本是否完全相同（忽略本地节点与计数器）。
func (s *ORSet[T]) Equal(o *ORSet[T]) bool {
	if len(s.items) != len(o.items) {
		return false
	}
	for v, l := range s.items {
		ol, ok := o.items[v]
		if !ok || !l.equal(ol) {
			return false
		}
	}
	return true
}

// ORSetState 是 ORSet 的哈希表示。
type ORSetState[T comparable] struct {
	NodeIdentity NodeID            `msgpack:"node_identity" json:"node_identity"`
	TokenCounter uint64            `msgpack:"token_counter" json:"token_counter"`
	Items        map[T]LedgerState `msgpack:"items" json:"items"`
}

func (s *ORSet[T]) State() ORSetState[T] {
	st := ORSetState[T]{
		NodeIdentity: s.tokens.node,
		TokenCounter: s.tokens.counter,
		Items:        make(map[T]LedgerState, len(s.items)),
	}
	for v, l := range s.items {
		st.Items[v] = l.state()
	}
	return st
}

// ORSetFromState 从哈希表示重建 ORSet。
func ORSetFromState[T comparable](st ORSetState[T]) (*ORSet[T], error) {
	if st.NodeIdentity == "" {
		return nil, invalidState(TypeORSet, "缺少 node_identity")
	}
	if st.Items == nil {
		return nil, invalidState(TypeORSet, "缺少 items")
	}
	s := newORSet[T](st.NodeIdentity, WithTokenCounter(st.TokenCounter))
	for v, ls := range st.Items {
		l, err := ledgerFromState(TypeORSet, ls)
		if err != nil {
			return nil, err
		}
		s.items[v] = l
		for t := range l.observed {
			s.tokens.observe(t)
		}
		for t := range l.removed {
			s.tokens.observe(t)
		}
	}
	return s, nil
}

func (s *ORSet[T]) Bytes() ([]byte, error) {
	return encodeState(s.State())
}

// FromBytesORSet 反序列化 ORSet。
func FromBytesORSet[T comparable](data []byte) (*ORSet[T], error) {
	var st ORSetState[T]
	if err := decodeState(TypeORSet, data, &st); err != nil {
		return nil, err
	}
	return ORSetFromState(st)
}
