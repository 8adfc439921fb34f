package mobile_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shinyes/yep_cvrdt/mobile"
)

func open(t *testing.T, path, node string) *mobile.MobileReplica {
	t.Helper()
	mm, err := mobile.NewMobileReplica(path, node)
	if err != nil {
		t.Fatal(err)
	}
	return mm
}

func TestMobileWrapper(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "a")
	mm := open(t, dbPath, "A")

	if err := mm.CreateRegisterRoot("name"); err != nil {
		t.Fatal(err)
	}
	if err := mm.CreateCounterRoot("age"); err != nil {
		t.Fatal(err)
	}
	if err := mm.CreateSetRoot("tags"); err != nil {
		t.Fatal(err)
	}
	if err := mm.CreateCounterRoot("age"); !errors.Is(err, mobile.ErrRootExists) {
		t.Fatalf("重复创建应返回 ErrRootExists，实际为 %v", err)
	}

	if err := mm.SetString("name", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := mm.Inc("age", 31); err != nil {
		t.Fatal(err)
	}
	if err := mm.Dec("age", 1); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"b", "a", "c"} {
		if err := mm.AddToSet("tags", tag); err != nil {
			t.Fatal(err)
		}
	}
	if err := mm.RemoveFromSet("tags", "c"); err != nil {
		t.Fatal(err)
	}

	if _, err := mm.GetInt("name"); !errors.Is(err, mobile.ErrWrongType) {
		t.Fatalf("类型不匹配应返回 ErrWrongType，实际为 %v", err)
	}
	if _, err := mm.GetInt("missing"); !errors.Is(err, mobile.ErrRootNotFound) {
		t.Fatalf("缺失的根节点应返回 ErrRootNotFound，实际为 %v", err)
	}

	// 重新打开后从快照恢复
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}
	mm = open(t, dbPath, "A")
	defer mm.Close()

	name, err := mm.GetString("name")
	if err != nil || name != "Alice" {
		t.Fatalf("name = %q, %v", name, err)
	}
	age, err := mm.GetInt("age")
	if err != nil || age != 30 {
		t.Fatalf("age = %d, %v", age, err)
	}
	tags, err := mm.GetSetAsJSON("tags")
	if err != nil || tags != `["a","b"]` {
		t.Fatalf("tags = %s, %v", tags, err)
	}

	roots, err := mm.ListRootsAsJSON()
	if err != nil {
		t.Fatal(err)
	}
	var list []map[string]string
	if err := json.Unmarshal([]byte(roots), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0]["id"] != "age" || list[0]["type"] != "PNCounter" {
		t.Errorf("Unexpected roots: %s", roots)
	}

	if err := mm.DeleteRoot("age"); err != nil {
		t.Fatal(err)
	}
	if mm.Exists("age") {
		t.Error("删除后根节点仍然存在")
	}
}

func TestMobileForeignSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "a")
	mm := open(t, dbPath, "A")
	if err := mm.CreateSetRoot("tags"); err != nil {
		t.Fatal(err)
	}
	mm.Close()

	_, err := mobile.NewMobileReplica(dbPath, "B")
	if !errors.Is(err, mobile.ErrForeignState) {
		t.Fatalf("用其他节点 ID 打开应失败，实际为 %v", err)
	}
}

func TestMobileSync(t *testing.T) {
	a := open(t, filepath.Join(t.TempDir(), "a"), "A")
	defer a.Close()
	b := open(t, filepath.Join(t.TempDir(), "b"), "B")
	defer b.Close()

	if err := a.CreateGraphRoot("g"); err != nil {
		t.Fatal(err)
	}
	v1, err := a.CreateVertex("g")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := a.CreateVertex("g")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.AddEdge("g", v1, v2); err != nil {
		t.Fatal(err)
	}
	if err := a.AddEdge("g", v1, "Z:9"); err == nil {
		t.Fatal("端点不存在时应失败")
	}

	data, err := a.Export("g")
	if err != nil {
		t.Fatal(err)
	}
	// B 尚无此根节点，按快照类型创建
	if err := b.Merge("g", data); err != nil {
		t.Fatal(err)
	}
	if err := b.RemoveVertex("g", v2); err != nil {
		t.Fatal(err)
	}

	data, err = b.Export("g")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Merge("g", data); err != nil {
		t.Fatal(err)
	}

	for _, r := range []*mobile.MobileReplica{a, b} {
		got, err := r.GetGraphAsJSON("g")
		if err != nil {
			t.Fatal(err)
		}
		want := `{"vertices":["` + v1 + `"],"edges":[]}`
		if got != want {
			t.Errorf("%s: graph = %s, want %s", r.NodeID(), got, want)
		}
	}

	// 两个副本都已合并，可以回收 A 的令牌
	for _, r := range []*mobile.MobileReplica{a, b} {
		if _, err := r.GC("g", "A", 3); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.CreateCounterRoot("c"); err != nil {
		t.Fatal(err)
	}
	counter, _ := a.Export("c")
	if err := b.Merge("g", counter); err == nil {
		t.Error("合并不同类型的快照应失败")
	}
	if _, err := a.GC("c", "A", 1); !errors.Is(err, mobile.ErrWrongType) {
		t.Errorf("计数器不支持回收，实际为 %v", err)
	}
}

func TestMobileRandomID(t *testing.T) {
	mm, err := mobile.NewMobileReplicaWithRandomID(filepath.Join(t.TempDir(), "r"))
	if err != nil {
		t.Fatal(err)
	}
	defer mm.Close()
	if mm.NodeID() == "" {
		t.Fatal("节点 ID 为空")
	}

	if _, err := mobile.NewMobileReplica(filepath.Join(t.TempDir(), "x"), ""); err == nil {
		t.Fatal("空节点 ID 应失败")
	}
}

func TestMobileMergeFailedSave(t *testing.T) {
	a := open(t, filepath.Join(t.TempDir(), "a"), "A")
	b := open(t, filepath.Join(t.TempDir(), "b"), "B")
	defer b.Close()

	if err := a.CreateSetRoot("tags"); err != nil {
		t.Fatal(err)
	}
	if err := a.AddToSet("tags", "a"); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateSetRoot("tags"); err != nil {
		t.Fatal(err)
	}
	if err := b.AddToSet("tags", "x"); err != nil {
		t.Fatal(err)
	}
	data, err := b.Export("tags")
	if err != nil {
		t.Fatal(err)
	}

	// 存储关闭后保存必然失败，内存中的根节点应保持原样
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Merge("tags", data); err == nil {
		t.Fatal("保存失败时 Merge 应返回错误")
	}
	if tags, err := a.GetSetAsJSON("tags"); err != nil || tags != `["a"]` {
		t.Fatalf("tags = %s, %v", tags, err)
	}
	if err := a.Merge("other", data); err == nil {
		t.Fatal("保存失败时 Merge 应返回错误")
	}
	if a.Exists("other") {
		t.Error("保存失败时不应创建根节点")
	}
}
