package crdt

import (
	"errors"
	"math"
	"testing"
)

func TestPNCounter_Basic(t *testing.T) {
	c := MustNewPNCounter("node1")

	// 初始值 0
	if c.Int64() != 0 {
		t.Fatalf("预期 0, 实际得到 %v", c.Value())
	}

	if err := c.Increase(5); err != nil {
		t.Fatalf("Increase 失败: %v", err)
	}
	if err := c.Decrease(2); err != nil {
		t.Fatalf("Decrease 失败: %v", err)
	}
	if c.Value().(int64) != 3 {
		t.Fatalf("预期 3, 实际得到 %v", c.Value())
	}
}

func TestPNCounter_NegativeAmountRejected(t *testing.T) {
	c := MustNewPNCounter("node1")
	c.Increase(4)

	if err := c.Increase(-1); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("预期 ErrNegativeAmount, 实际得到 %v", err)
	}
	if err := c.DecreaseFrom("node2", -7); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("预期 ErrNegativeAmount, 实际得到 %v", err)
	}
	if err := c.IncreaseFrom("", 1); !errors.Is(err, ErrEmptyNodeID) {
		t.Fatalf("预期 ErrEmptyNodeID, 实际得到 %v", err)
	}
	if c.Int64() != 4 {
		t.Fatalf("无效输入不应改变状态, 实际得到 %d", c.Int64())
	}
}

func TestPNCounter_AddRoutesBySign(t *testing.T) {
	c := MustNewPNCounter("node1")
	if err := c.Add(10); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(-4); err != nil {
		t.Fatal(err)
	}

	if c.Int64() != 6 {
		t.Fatalf("预期 6, 实际得到 %d", c.Int64())
	}
	if c.P["node1"] != 10 || c.N["node1"] != 4 {
		t.Fatalf("P/N 记录错误: P=%v N=%v", c.P, c.N)
	}
}

func TestPNCounter_Merge(t *testing.T) {
	c1 := MustNewPNCounter("node1")
	c2 := MustNewPNCounter("node2")

	c1.Increase(10)
	c2.Increase(20)

	if err := c1.Merge(c2); err != nil {
		t.Fatalf("合并失败: %v", err)
	}

	// 预期: 10 (来自 node1) + 20 (来自 node2) = 30
	if c1.Int64() != 30 {
		t.Errorf("预期 30, 实际得到 %v", c1.Value())
	}

	// c2: -5，这会给 node2 的 N 映射增加 5
	c2.Decrease(5)
	c1.Merge(c2)

	if c1.Int64() != 25 {
		t.Errorf("预期 25, 实际得到 %v", c1.Value())
	}

	// 重复合并不改变结果
	c1.Merge(c2)
	if c1.Int64() != 25 {
		t.Errorf("重复合并后预期 25, 实际得到 %v", c1.Value())
	}
}

func TestPNCounter_Convergence(t *testing.T) {
	a := MustNewPNCounter("A")
	b := MustNewPNCounter("B")

	a.Increase(5)
	b.Decrease(2)

	// 双向合并
	a.Merge(b)
	b.Merge(a)

	if a.Int64() != 3 || b.Int64() != 3 {
		t.Errorf("计数器未收敛到 3: a=%d b=%d", a.Int64(), b.Int64())
	}
}

func TestPNCounter_MergeTypeMismatch(t *testing.T) {
	c := MustNewPNCounter("A")
	err := c.Merge(NewVectorClock("A"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("预期 ErrTypeMismatch, 实际得到 %v", err)
	}
}

func TestPNCounter_GCFoldsIntoBase(t *testing.T) {
	a := MustNewPNCounter("A")
	a.Increase(7)
	a.DecreaseFrom("B", 3)
	a.IncreaseFrom("B", 10)

	a.GC("B")

	if a.Int64() != 14 {
		t.Fatalf("GC 不应改变值: 预期 14, 实际得到 %d", a.Int64())
	}
	if a.Base() != 7 {
		t.Fatalf("预期 base 7, 实际得到 %d", a.Base())
	}
	if _, ok := a.P["B"]; ok {
		t.Fatal("GC 后 B 的正向条目应被删除")
	}
	if _, ok := a.N["B"]; ok {
		t.Fatal("GC 后 B 的负向条目应被删除")
	}

	// 其他节点的条目仍然按 max 合并
	other := MustNewPNCounter("A")
	other.Increase(9)
	a.Merge(other)
	if a.Int64() != 16 {
		t.Fatalf("预期 16, 实际得到 %d", a.Int64())
	}
}

func TestPNCounter_BaseValueOption(t *testing.T) {
	c := MustNewPNCounter("A", WithBaseValue(100))
	c.Decrease(1)
	if c.Int64() != 99 {
		t.Fatalf("预期 99, 实际得到 %d", c.Int64())
	}
}

func TestPNCounter_AddRejectsMinInt64(t *testing.T) {
	c := MustNewPNCounter("A")
	if err := c.Add(-5); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(math.MinInt64); !errors.Is(err, ErrInvalidOp) {
		t.Fatalf("预期 ErrInvalidOp, 实际得到 %v", err)
	}
	if c.N["A"] != 5 || c.Int64() != -5 {
		t.Fatalf("无效输入不应改变状态: N=%v value=%d", c.N, c.Int64())
	}

	// 状态仍能往返
	data, err := c.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromBytesPNCounter(data); err != nil {
		t.Fatalf("往返失败: %v", err)
	}
}
