package crdt

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NodeID 是副本的不透明标识。
// 它必须在其写入过的任何持久化状态的生命周期内保持稳定；
// 重用或重新生成标识会破坏因果跟踪。
type NodeID string

// NewNodeID 生成一个新的节点 ID (UUIDv7)。
// 调用方负责持久化它，并在重启后继续使用同一个值。
func NewNodeID() (NodeID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return NodeID(id.String()), nil
}

// Token 标识某个节点上的一次添加/创建事件。
type Token struct {
	Node    NodeID `msgpack:"node" json:"node"`
	Counter uint64 `msgpack:"counter" json:"counter"`
}

func (t Token) String() string {
	return string(t.Node) + ":" + strconv.FormatUint(t.Counter, 10)
}

// Compare 先按节点、再按计数器排序。
func (t Token) Compare(o Token) int {
	if c := cmp.Compare(t.Node, o.Node); c != 0 {
		return c
	}
	return cmp.Compare(t.Counter, o.Counter)
}

// ParseToken 解析 "node:counter" 形式的令牌。
// 以最后一个冒号分隔，所以节点 ID 本身可以包含冒号。
func ParseToken(s string) (Token, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Token{}, fmt.Errorf("令牌格式错误: %q", s)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("令牌计数器错误: %q: %w", s, err)
	}
	return Token{Node: NodeID(s[:i]), Counter: n}, nil
}

// TokenSet 是令牌的集合。
type TokenSet map[Token]struct{}

func NewTokenSet(tokens ...Token) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

func (s TokenSet) Add(t Token) {
	s[t] = struct{}{}
}

func (s TokenSet) Has(t Token) bool {
	_, ok := s[t]
	return ok
}

// Union 把 other 中的所有令牌加入 s。
func (s TokenSet) Union(other TokenSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// Subtract 从 s 中删除 other 中出现的令牌。
func (s TokenSet) Subtract(other TokenSet) {
	for t := range other {
		delete(s, t)
	}
}

func (s TokenSet) Clone() TokenSet {
	c := make(TokenSet, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}

func (s TokenSet) Equal(other TokenSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// Sorted 返回确定顺序的令牌切片，用于序列化。
func (s TokenSet) Sorted() []Token {
	out := make([]Token, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	slices.SortFunc(out, Token.Compare)
	return out
}

// tokenIssuer 按节点发放单调递增的令牌。
// 计数器从不回退；重启后必须从持久化状态恢复。
type tokenIssuer struct {
	node    NodeID
	counter uint64
}

func (i *tokenIssuer) issue() Token {
	if i.node == "" {
		panic(ErrEmptyNodeID)
	}
	i.counter++
	return Token{Node: i.node, Counter: i.counter}
}

// observe 确保以后发放的令牌不会与已见过的本节点令牌冲突。
func (i *tokenIssuer) observe(t Token) {
	if t.Node == i.node && t.Counter > i.counter {
		i.counter = t.Counter
	}
}

// ledger 是单个元素的 observed/removed 令牌账本。
type ledger struct {
	observed TokenSet
	removed  TokenSet
}

func newLedger() *ledger {
	return &ledger{observed: make(TokenSet), removed: make(TokenSet)}
}

func (l *ledger) present() bool {
	return len(l.observed) > 0
}

// retire 把所有 observed 令牌移入 removed。
func (l *ledger) retire() {
	l.removed.Union(l.observed)
	l.observed = make(TokenSet)
}

// join 先合并两个账本，再从 observed 中减去 removed。
// 顺序不能交换，否则合并不满足结合律。
func (l *ledger) join(o *ledger) {
	l.observed.Union(o.observed)
	l.removed.Union(o.removed)
	l.observed.Subtract(l.removed)
}

func (l *ledger) clone() *ledger {
	return &ledger{observed: l.observed.Clone(), removed: l.removed.Clone()}
}

func (l *ledger) equal(o *ledger) bool {
	return l.observed.Equal(o.observed) && l.removed.Equal(o.removed)
}

// compact 回收 node 发出的、计数器 <= until 的令牌，返回丢弃的数量。
// 墓碑直接丢弃；observed 中只保留计数器最大的那一个。
// 其他节点的令牌保持不变。
func (l *ledger) compact(node NodeID, until uint64) int {
	dropped := 0
	for t := range l.removed {
		if t.Node == node && t.Counter <= until {
			delete(l.removed, t)
			dropped++
		}
	}

	var keep Token
	found := false
	for t := range l.observed {
		if t.Node != node || t.Counter > until {
			continue
		}
		if !found || t.Counter > keep.Counter {
			keep = t
			found = true
		}
	}
	if !found {
		return dropped
	}
	for t := range l.observed {
		if t.Node == node && t.Counter <= until && t != keep {
			delete(l.observed, t)
			dropped++
		}
	}
	return dropped
}

// advance 把账本中每个节点的最大令牌计数器记入 vc。
func (l *ledger) advance(vc *VectorClock) {
	for t := range l.observed {
		vc.Advance(t.Node, t.Counter)
	}
	for t := range l.removed {
		vc.Advance(t.Node, t.Counter)
	}
}

// LedgerState 是单个元素账本的哈希表示。
type LedgerState struct {
	Observed []Token `msgpack:"observed" json:"observed"`
	Removed  []Token `msgpack:"removed" json:"removed"`
}

func (l *ledger) state() LedgerState {
	return LedgerState{Observed: l.observed.Sorted(), Removed: l.removed.Sorted()}
}

func ledgerFromState(t Type, s LedgerState) (*ledger, error) {
	if s.Observed == nil || s.Removed == nil {
		return nil, invalidState(t, "账本缺少 observed 或 removed 字段")
	}
	l := &ledger{observed: NewTokenSet(s.Observed...), removed: NewTokenSet(s.Removed...)}
	// 令牌不会从 removed 回到 observed。
	l.observed.Subtract(l.removed)
	return l, nil
}
