package main_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
	"github.com/shinyes/yep_cvrdt/pkg/store"
	"github.com/shinyes/yep_cvrdt/pkg/sync"
)

// ship 模拟网络传输：编码为快照字节，再在对端解码合并。
func ship(t *testing.T, from, to crdt.CRDT) {
	t.Helper()
	data, err := store.Encode(from)
	if err != nil {
		t.Fatal(err)
	}
	remote, err := store.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := to.Merge(remote); err != nil {
		t.Fatal(err)
	}
}

func TestCRDTs(t *testing.T) {
	// 1. 计数器
	a := crdt.MustNewPNCounter("A")
	b := crdt.MustNewPNCounter("B")
	if err := a.Increase(10); err != nil {
		t.Fatal(err)
	}
	if err := b.Increase(5); err != nil {
		t.Fatal(err)
	}
	ship(t, b, a)
	if val := a.Value().(int64); val != 15 {
		t.Errorf("期望值为 15，实际为 %v", val)
	}

	// 2. 集合：一个副本移除自己看到的元素，另一个副本之后还能再添加
	s1 := crdt.MustNewORSet[string]("A")
	s2 := crdt.MustNewORSet[string]("B")
	s1.Add("foo")
	s2.Add("bar")
	ship(t, s1, s2)
	s2.Remove("foo")
	ship(t, s2, s1)

	if s1.Has("foo") || !s1.Has("bar") || s1.Len() != 1 {
		t.Errorf("期望结果为 [bar]，实际为 %v", s1.Elements())
	}

	// 3. 图
	g1 := crdt.MustNewORGraph("A")
	g2 := crdt.MustNewORGraph("B")
	v1 := g1.CreateVertex()
	v2 := g1.CreateVertex()
	if _, err := g1.AddEdge(v1, v2); err != nil {
		t.Fatal(err)
	}
	ship(t, g1, g2)
	if err := g2.RemoveVertex(v1); err != nil {
		t.Fatal(err)
	}
	// 并发添加的第二条边在合并后被级联移除
	if _, err := g1.AddEdge(v1, v2); err != nil {
		t.Fatal(err)
	}
	ship(t, g2, g1)
	ship(t, g1, g2)
	if g1.HasVertex(v1) || len(g1.Edges()) != 0 || !g1.Equal(g2) {
		t.Errorf("期望只剩 %s，实际为 %v / %v", v2, g1.Vertices(), g1.Edges())
	}
}

type replica struct {
	id    crdt.NodeID
	snaps *store.SnapshotStore
	set   *crdt.ORSet[string]
	floor *sync.GCFloor
}

func TestPersistenceAndGC(t *testing.T) {
	root := filepath.Join(t.TempDir(), "replicas")
	ms := store.NewMultiStore(root)
	defer ms.CloseAll()

	ids := []crdt.NodeID{"A", "B", "C"}
	open := func(id crdt.NodeID) *replica {
		kv, err := ms.Get(string(id))
		if err != nil {
			t.Fatal(err)
		}
		r := &replica{id: id, snaps: store.NewSnapshotStore(kv), floor: sync.NewGCFloor(id, sync.WithMinPeers(len(ids)-1))}
		c, err := r.snaps.Load("set")
		switch {
		case err == nil:
			r.set = c.(*crdt.ORSet[string])
		case errors.Is(err, store.ErrKeyNotFound):
			r.set = crdt.MustNewORSet[string](id)
		default:
			t.Fatal(err)
		}
		if err := r.floor.Register("set", r.set); err != nil {
			t.Fatal(err)
		}
		return r
	}

	replicas := make([]*replica, len(ids))
	for i, id := range ids {
		replicas[i] = open(id)
	}
	syncAll := func() {
		for range 2 {
			for _, x := range replicas {
				for _, y := range replicas {
					if x != y {
						ship(t, x.set, y.set)
					}
				}
			}
		}
	}

	replicas[0].set.Add("x")
	replicas[1].set.Add("y")
	syncAll()
	replicas[2].set.Remove("x")
	replicas[0].set.Add("z")
	syncAll()

	for _, r := range replicas {
		if err := r.snaps.Save("set", r.set); err != nil {
			t.Fatal(err)
		}
	}

	// 重启 B，从快照恢复后继续发放令牌
	if err := ms.Close("B"); err != nil {
		t.Fatal(err)
	}
	replicas[1] = open("B")
	if tok := replicas[1].set.Add("w"); tok.Counter != 2 {
		t.Errorf("重启后令牌应从 2 继续，实际为 %s", tok)
	}
	syncAll()

	// 静默之后以各自的前沿作为确认
	frontiers := make(map[crdt.NodeID]*crdt.VectorClock, len(replicas))
	for _, r := range replicas {
		frontiers[r.id] = r.set.Frontier()
	}
	dropped := 0
	for _, r := range replicas {
		for id, f := range frontiers {
			if err := r.floor.Observe(id, f); err != nil {
				t.Fatal(err)
			}
		}
		dropped += r.floor.Compact().Dropped
	}
	if dropped == 0 {
		t.Error("期望回收到墓碑")
	}

	for _, r := range replicas {
		if _, removed := r.set.Tokens("x"); len(removed) != 0 {
			t.Errorf("%s: x 的墓碑未回收: %v", r.id, removed)
		}
		if r.set.Len() != 3 || !r.set.Has("y") || !r.set.Has("z") || !r.set.Has("w") {
			t.Errorf("%s: 期望 [w y z]，实际为 %v", r.id, r.set.Elements())
		}
		if !r.set.Equal(replicas[0].set) {
			t.Errorf("%s: 回收后副本不一致", r.id)
		}
	}
}
