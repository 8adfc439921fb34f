package crdt

import (
	"fmt"
	"slices"
	"strings"
)

// Edge 是一条有向边。
type Edge struct {
	From Token `msgpack:"from" json:"from"`
	To   Token `msgpack:"to" json:"to"`
}

func (e Edge) String() string {
	return e.From.String() + "->" + e.To.String()
}

func (e Edge) Compare(o Edge) int {
	if c := e.From.Compare(o.From); c != 0 {
		return c
	}
	return e.To.Compare(o.To)
}

// ParseEdge 解析 "from->to" 形式的边键。
// 节点 ID 中可能出现 "->"，因此尝试每个分隔位置，取第一个两侧都能解析的。
func ParseEdge(s string) (Edge, error) {
	for i := 0; ; {
		j := strings.Index(s[i:], "->")
		if j < 0 {
			break
		}
		at := i + j
		from, err1 := ParseToken(s[:at])
		to, err2 := ParseToken(s[at+2:])
		if err1 == nil && err2 == nil {
			return Edge{From: from, To: to}, nil
		}
		i = at + 2
	}
	return Edge{}, fmt.Errorf("边键格式错误: %q", s)
}

type vertex struct {
	// 邻接多重集：邻居 -> 重数。重数等于该边当前存活令牌的数量，
	// 所以重复 AddEdge 会留下重复的邻接项。
	incoming map[Token]int
	outgoing map[Token]int
	removed  bool
}

func newVertex() *vertex {
	return &vertex{incoming: make(map[Token]int), outgoing: make(map[Token]int)}
}

// ORGraph 是观察-移除图（2P2P 图的变体）。
//
// 顶点在某个节点上唯一创建，以令牌表示；把令牌与业务数据关联由调用方负责。
// 顶点的移除是粘性的，并且胜过任何并发的重新观察：
// 被移除的顶点不会有存活的关联边。边使用与 ORSet 相同的令牌账本。
type ORGraph struct {
	tokens   tokenIssuer
	vertices map[Token]*vertex
	edges    map[Edge]*ledger
}

// NewORGraph 创建一个空图。node 不能为空。
func NewORGraph(node NodeID, opts ...TokenOption) (*ORGraph, error) {
	if node == "" {
		return nil, ErrEmptyNodeID
	}
	return newORGraph(node, opts...), nil
}

// MustNewORGraph 与 NewORGraph 相同，但 node 为空时 panic。
func MustNewORGraph(node NodeID, opts ...TokenOption) *ORGraph {
	g, err := NewORGraph(node, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

func newORGraph(node NodeID, opts ...TokenOption) *ORGraph {
	g := &ORGraph{
		tokens:   tokenIssuer{node: node},
		vertices: make(map[Token]*vertex),
		edges:    make(map[Edge]*ledger),
	}
	for _, opt := range opts {
		opt(&g.tokens)
	}
	return g
}

func (g *ORGraph) Type() Type {
	return TypeORGraph
}

func (g *ORGraph) Node() NodeID {
	return g.tokens.node
}

func (g *ORGraph) TokenCounter() uint64 {
	return g.tokens.counter
}

// GraphValue 是图当前可见的内容。
type GraphValue struct {
	Vertices []Token
	Edges    []Edge
}

func (g *ORGraph) Value() any {
	return GraphValue{Vertices: g.Vertices(), Edges: g.Edges()}
}

// CreateVertex 添加一个新顶点并返回代表它的令牌。
func (g *ORGraph) CreateVertex() Token {
	t := g.tokens.issue()
	g.vertices[t] = newVertex()
	return t
}

// HasVertex 报告顶点存在且未被移除。
func (g *ORGraph) HasVertex(v Token) bool {
	vx, ok := g.vertices[v]
	return ok && !vx.removed
}

// Vertices 返回所有存在的顶点，按令牌排序。
func (g *ORGraph) Vertices() []Token {
	out := make([]Token, 0, len(g.vertices))
	for t, vx := range g.vertices {
		if !vx.removed {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, Token.Compare)
	return out
}

// AddEdge 添加一条 from -> to 的边，返回本次添加发放的令牌。
func (g *ORGraph) AddEdge(from, to Token) (Token, error) {
	for _, v := range []Token{from, to} {
		vx, ok := g.vertices[v]
		if !ok {
			return Token{}, fmt.Errorf("%w: %s", ErrUnknownVertex, v)
		}
		if vx.removed {
			return Token{}, fmt.Errorf("%w: %s", ErrVertexRemoved, v)
		}
	}

	e := Edge{From: from, To: to}
	l, ok := g.edges[e]
	if !ok {
		l = newLedger()
		g.edges[e] = l
	}
	t := g.tokens.issue()
	l.observed.Add(t)
	g.reindex(e)
	return t, nil
}

// HasEdge 报告 from -> to 是否存在。
func (g *ORGraph) HasEdge(from, to Token) bool {
	l, ok := g.edges[Edge{From: from, To: to}]
	return ok && l.present()
}

// Edges 返回所有存在的边（每个有向点对一条），按顺序排列。
func (g *ORGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e, l := range g.edges {
		if l.present() {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, Edge.Compare)
	return out
}

// OutgoingEdges 返回从 v 出发的边，包含重复的邻接项。
func (g *ORGraph) OutgoingEdges(v Token) []Edge {
	vx, ok := g.vertices[v]
	if !ok {
		return nil
	}
	return expand(vx.outgoing, func(n Token) Edge { return Edge{From: v, To: n} })
}

// IncomingEdges 返回终止于 v 的边，包含重复的邻接项。
func (g *ORGraph) IncomingEdges(v Token) []Edge {
	vx, ok := g.vertices[v]
	if !ok {
		return nil
	}
	return expand(vx.incoming, func(n Token) Edge { return Edge{From: n, To: v} })
}

func expand(adj map[Token]int, mk func(Token) Edge) []Edge {
	out := make([]Edge, 0, len(adj))
	for n, c := range adj {
		for range c {
			out = append(out, mk(n))
		}
	}
	slices.SortFunc(out, Edge.Compare)
	return out
}

// RemoveVertex 移除顶点及其所有关联边（两个方向）。
func (g *ORGraph) RemoveVertex(v Token) error {
	vx, ok := g.vertices[v]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVertex, v)
	}
	vx.removed = true
	g.cascade(v)
	return nil
}

// cascade 移除与 v 相关的所有边。
func (g *ORGraph) cascade(v Token) {
	vx := g.vertices[v]
	incident := make([]Edge, 0, len(vx.incoming)+len(vx.outgoing))
	for to := range vx.outgoing {
		incident = append(incident, Edge{From: v, To: to})
	}
	for from := range vx.incoming {
		incident = append(incident, Edge{From: from, To: v})
	}
	for _, e := range incident {
		g.removeEdge(e)
	}
}

// RemoveEdge 移除 from -> to：observed 令牌移入 removed，
// 并从 from 的出边表中去掉 to、从 to 的入边表中去掉 from。
// 移除不存在的边不做任何事。
func (g *ORGraph) RemoveEdge(from, to Token) error {
	e := Edge{From: from, To: to}
	if _, ok := g.edges[e]; !ok {
		return nil
	}
	g.removeEdge(e)
	return nil
}

func (g *ORGraph) removeEdge(e Edge) {
	if l, ok := g.edges[e]; ok {
		l.retire()
	}
	g.reindex(e)
}

// reindex 让两个端点的邻接重数与边的存活令牌数量一致。
func (g *ORGraph) reindex(e Edge) {
	n := 0
	if l, ok := g.edges[e]; ok {
		n = len(l.observed)
	}
	if from, ok := g.vertices[e.From]; ok {
		setCount(from.outgoing, e.To, n)
	}
	if to, ok := g.vertices[e.To]; ok {
		setCount(to.incoming, e.From, n)
	}
}

func setCount(adj map[Token]int, k Token, n int) {
	if n <= 0 {
		delete(adj, k)
		return
	}
	adj[k] = n
}

func (g *ORGraph) Merge(other CRDT) error {
	o, ok := other.(*ORGraph)
	if !ok {
		return mismatch(TypeORGraph, other)
	}

	for t, ovx := range o.vertices {
		vx, ok := g.vertices[t]
		if !ok {
			vx = newVertex()
			g.vertices[t] = vx
		}
		vx.removed = vx.removed || ovx.removed
		g.tokens.observe(t)
	}

	for e, ol := range o.edges {
		g.ensureEndpoints(e)
		l, ok := g.edges[e]
		if !ok {
			l = newLedger()
			g.edges[e] = l
		}
		l.join(ol)
		for t := range l.observed {
			g.tokens.observe(t)
		}
		for t := range l.removed {
			g.tokens.observe(t)
		}
		g.reindex(e)
	}

	// 移除是粘性的：对方可能在不知道移除的情况下添加过关联边。
	for t, vx := range g.vertices {
		if vx.removed {
			g.cascade(t)
		}
	}
	return nil
}

// ensureEndpoints 为缺失的端点补一个已移除的顶点。
// 这只会在端点已被回收时发生：存活的顶点总会随边一起被合并进来。
func (g *ORGraph) ensureEndpoints(e Edge) {
	for _, t := range []Token{e.From, e.To} {
		if _, ok := g.vertices[t]; !ok {
			vx := newVertex()
			vx.removed = true
			g.vertices[t] = vx
		}
	}
}

// Frontier 返回本副本见过的每个节点的最大令牌计数器（顶点与边）。
func (g *ORGraph) Frontier() *VectorClock {
	vc := NewVectorClock(g.tokens.node)
	vc.Advance(g.tokens.node, g.tokens.counter)
	for t := range g.vertices {
		vc.Advance(t.Node, t.Counter)
	}
	for _, l := range g.edges {
		l.advance(vc)
	}
	return vc
}

// GC 回收 node 发出的、计数器 <= until 的令牌，返回丢弃的令牌与顶点数量。
//
// 边账本按 ORSet 的规则压缩，两个账本都为空的边被删除；
// node 创建的、计数器 <= until 的已移除顶点在没有任何边引用时被物理删除。
// 调用方必须保证静默。
func (g *ORGraph) GC(node NodeID, until uint64) int {
	dropped := 0
	for e, l := range g.edges {
		dropped += l.compact(node, until)
		if len(l.observed) == 0 && len(l.removed) == 0 {
			delete(g.edges, e)
		}
		g.reindex(e)
	}

	referenced := make(map[Token]struct{}, len(g.edges)*2)
	for e := range g.edges {
		referenced[e.From] = struct{}{}
		referenced[e.To] = struct{}{}
	}
	for t, vx := range g.vertices {
		if !vx.removed || t.Node != node || t.Counter > until {
			continue
		}
		if _, ok := referenced[t]; ok {
			continue
		}
		delete(g.vertices, t)
		dropped++
	}
	return dropped
}

// Clone 返回一个独立的副本。
func (g *ORGraph) Clone() *ORGraph {
	out := newORGraph(g.tokens.node, WithTokenCounter(g.tokens.counter))
	for t, vx := range g.vertices {
		c := newVertex()
		c.removed = vx.removed
		for k, n := range vx.incoming {
			c.incoming[k] = n
		}
		for k, n := range vx.outgoing {
			c.outgoing[k] = n
		}
		out.vertices[t] = c
	}
	for e, l := range g.edges {
		out.edges[e] = l.clone()
	}
	return out
}

// Equal 报告两个图的顶点与边账本是否完全相同（忽略本地节点与计数器）。
func (g *ORGraph) Equal(o *ORGraph) bool {
	if len(g.vertices) != len(o.vertices) || len(g.edges) != len(o.edges) {
		return false
	}
	for t, vx := range g.vertices {
		ovx, ok := o.vertices[t]
		if !ok || vx.removed != ovx.removed {
			return false
		}
	}
	for e, l := range g.edges {
		ol, ok := o.edges[e]
		if !ok || !l.equal(ol) {
			return false
		}
	}
	return true
}

// VertexState 是顶点的哈希表示。
type VertexState struct {
	Incoming []Token `msgpack:"incoming" json:"incoming"`
	Outgoing []Token `msgpack:"outgoing" json:"outgoing"`
	Removed  bool    `msgpack:"removed" json:"removed"`
}

// ORGraphState 是 ORGraph 的哈希表示。
// vertices 以 "node:counter" 为键，edges 以 "from->to" 为键。
type ORGraphState struct {
	NodeIdentity NodeID                 `msgpack:"node_identity" json:"node_identity"`
	TokenCounter uint64                 `msgpack:"token_counter" json:"token_counter"`
	Vertices     map[string]VertexState `msgpack:"vertices" json:"vertices"`
	Edges        map[string]LedgerState `msgpack:"edges" json:"edges"`
}

func multiset(adj map[Token]int) []Token {
	out := make([]Token, 0, len(adj))
	for n, c := range adj {
		for range c {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, Token.Compare)
	return out
}

func (g *ORGraph) State() ORGraphState {
	st := ORGraphState{
		NodeIdentity: g.tokens.node,
		TokenCounter: g.tokens.counter,
		Vertices:     make(map[string]VertexState, len(g.vertices)),
		Edges:        make(map[string]LedgerState, len(g.edges)),
	}
	for t, vx := range g.vertices {
		st.Vertices[t.String()] = VertexState{
			Incoming: multiset(vx.incoming),
			Outgoing: multiset(vx.outgoing),
			Removed:  vx.removed,
		}
	}
	for e, l := range g.edges {
		st.Edges[e.String()] = l.state()
	}
	return st
}

// ORGraphFromState 从哈希表示重建 ORGraph。
// 邻接表由边账本推导，输入中的 incoming/outgoing 只做格式校验。
func ORGraphFromState(st ORGraphState) (*ORGraph, error) {
	if st.NodeIdentity == "" {
		return nil, invalidState(TypeORGraph, "缺少 node_identity")
	}
	if st.Vertices == nil || st.Edges == nil {
		return nil, invalidState(TypeORGraph, "缺少 vertices 或 edges")
	}

	g := newORGraph(st.NodeIdentity, WithTokenCounter(st.TokenCounter))
	for key, vs := range st.Vertices {
		t, err := ParseToken(key)
		if err != nil {
			return nil, invalidState(TypeORGraph, err.Error())
		}
		if vs.Incoming == nil || vs.Outgoing == nil {
			return nil, invalidState(TypeORGraph, "顶点 "+key+" 缺少 incoming 或 outgoing")
		}
		vx := newVertex()
		vx.removed = vs.Removed
		g.vertices[t] = vx
		g.tokens.observe(t)
	}
	for key, ls := range st.Edges {
		e, err := ParseEdge(key)
		if err != nil {
			return nil, invalidState(TypeORGraph, err.Error())
		}
		if _, ok := g.vertices[e.From]; !ok {
			return nil, invalidState(TypeORGraph, "边 "+key+" 的起点不是顶点")
		}
		if _, ok := g.vertices[e.To]; !ok {
			return nil, invalidState(TypeORGraph, "边 "+key+" 的终点不是顶点")
		}
		l, err := ledgerFromState(TypeORGraph, ls)
		if err != nil {
			return nil, err
		}
		g.edges[e] = l
		for t := range l.observed {
			g.tokens.observe(t)
		}
		for t := range l.removed {
			g.tokens.observe(t)
		}
		g.reindex(e)
	}
	for t, vx := range g.vertices {
		if vx.removed {
			g.cascade(t)
		}
	}
	return g, nil
}

func (g *ORGraph) Bytes() ([]byte, error) {
	return encodeState(g.State())
}

// FromBytesORGraph 反序列化 ORGraph。
func FromBytesORGraph(data []byte) (*ORGraph, error) {
	var st ORGraphState
	if err := decodeState(TypeORGraph, data, &st); err != nil {
		return nil, err
	}
	return ORGraphFromState(st)
}
