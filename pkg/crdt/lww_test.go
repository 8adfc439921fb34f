package crdt

import (
	"testing"
	"time"

	"github.com/shinyes/yep_cvrdt/pkg/hlc"
)

// stepClock 每次调用前进 step。
func stepClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLWWRegister_SetGet(t *testing.T) {
	r := NewLWWRegister[string](1)

	if _, ok := r.Get(); ok {
		t.Fatal("新寄存器不应有值")
	}

	r.Set("hello")
	v, ok := r.Get()
	if !ok || v != "hello" {
		t.Fatalf("预期 hello, 实际得到 %q (ok=%v)", v, ok)
	}
	if r.Stamp().Tiebreaker != 1 {
		t.Fatalf("戳应带有本寄存器的决胜值, 实际得到 %d", r.Stamp().Tiebreaker)
	}
}

func TestLWWRegister_LaterWriteWinsBothDirections(t *testing.T) {
	base := time.Unix(1700000000, 500)

	a := NewLWWRegister[string](9, WithTimeSource(fixedClock(base)))
	b := NewLWWRegister[string](1, WithTimeSource(fixedClock(base.Add(time.Second))))

	a.Set("early")
	b.Set("late")

	// 较晚的写入决胜值更小，也必须胜出
	a1, b1 := a.Clone(), b.Clone()
	a1.Merge(b)
	b1.Merge(a)

	for name, r := range map[string]*LWWRegister[string]{"a<-b": a1, "b<-a": b1} {
		if v, _ := r.Get(); v != "late" {
			t.Errorf("%s: 预期 late, 实际得到 %q", name, v)
		}
	}
}

func TestLWWRegister_SubsecondBreaksTie(t *testing.T) {
	base := time.Unix(1700000000, 0)

	a := NewLWWRegister[string](100, WithTimeSource(fixedClock(base.Add(10))))
	b := NewLWWRegister[string](1, WithTimeSource(fixedClock(base.Add(20))))
	a.Set("a")
	b.Set("b")

	a.Merge(b)
	if v, _ := a.Get(); v != "b" {
		t.Fatalf("纳秒更大的写入应胜出, 实际得到 %q", v)
	}
}

func TestLWWRegister_TiebreakerBreaksTie(t *testing.T) {
	now := time.Unix(1700000000, 42)

	a := NewLWWRegister[string](1, WithTimeSource(fixedClock(now)))
	b := NewLWWRegister[string](2, WithTimeSource(fixedClock(now)))
	a.Set("a")
	b.Set("b")

	a.Merge(b)
	b.Merge(a)

	av, _ := a.Get()
	bv, _ := b.Get()
	if av != bv || av != "b" {
		t.Fatalf("预期收敛到 b, 实际得到 a=%q b=%q", av, bv)
	}
}

func TestLWWRegister_MergeIntoEmpty(t *testing.T) {
	empty := NewLWWRegister[[]byte](1)
	src := NewLWWRegister[[]byte](2)
	src.Set([]byte("x"))

	empty.Merge(src)
	if v, ok := empty.Get(); !ok || string(v) != "x" {
		t.Fatalf("空寄存器应采用对方的值, 实际得到 %q", v)
	}

	// 未写入的寄存器不会覆盖已写入的寄存器
	src.Merge(NewLWWRegister[[]byte](3))
	if v, _ := src.Get(); string(v) != "x" {
		t.Fatalf("合并空寄存器不应改变值, 实际得到 %q", v)
	}
}

func TestLWWRegister_ClockRollbackStillAdvances(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := NewLWWRegister[int](5, WithTimeSource(stepClock(now, -time.Second)))

	r.Set(1)
	first := r.Stamp()
	r.Set(2)

	if r.Stamp().Compare(first) <= 0 {
		t.Fatalf("时钟回拨后戳应仍然递增: %v <= %v", r.Stamp(), first)
	}
	if v, _ := r.Get(); v != 2 {
		t.Fatalf("预期 2, 实际得到 %d", v)
	}
}

func TestLWWRegister_WithHLC(t *testing.T) {
	clock := hlc.NewWithSource(fixedClock(time.Unix(1700000000, 0)))
	r := NewLWWRegister[string](7, WithHLC(clock))

	r.Set("a")
	s1 := r.Stamp()
	r.Set("b")
	s2 := r.Stamp()

	if s2.Compare(s1) <= 0 {
		t.Fatalf("HLC 时间源应保证戳严格递增: %v, %v", s1, s2)
	}
}

func TestTimestamp_NextCarriesIntoSeconds(t *testing.T) {
	ts := Timestamp{Seconds: 10, Nanos: int64(time.Second) - 1, Tiebreaker: 9}
	n := ts.next(1)
	if n.Seconds != 11 || n.Nanos != 0 || n.Tiebreaker != 1 {
		t.Fatalf("next 结果错误: %+v", n)
	}
	if n.Compare(ts) <= 0 {
		t.Fatal("next 应严格大于原戳")
	}
}

func TestNewTiebreaker(t *testing.T) {
	if NewTiebreaker() == NewTiebreaker() {
		t.Fatal("两次生成的决胜值不应相同")
	}
}
