package crdt

import (
	"errors"
	"strings"
	"testing"
)

// TestInvalidDataError 测试InvalidDataError错误类型
func TestInvalidDataError(t *testing.T) {
	tests := []struct {
		name        string
		crdtType    Type
		reason      string
		dataLength  int
		wantMessage string
	}{
		{
			name:        "empty data",
			crdtType:    TypeLWW,
			reason:      "data为空",
			dataLength:  0,
			wantMessage: "无效的 CRDT 数据: 类型 3, 原因: data为空, 数据长度: 0",
		},
		{
			name:        "invalid length",
			crdtType:    TypePNCounter,
			reason:      "数据不足",
			dataLength:  5,
			wantMessage: "无效的 CRDT 数据: 类型 1, 原因: 数据不足, 数据长度: 5",
		},
		{
			name:        "negative data length",
			crdtType:    TypeORGraph,
			reason:      "解析失败",
			dataLength:  -1,
			wantMessage: "无效的 CRDT 数据: 类型 5, 原因: 解析失败",
		},
		{
			name:        "no reason",
			crdtType:    TypeORSet,
			reason:      "",
			dataLength:  100,
			wantMessage: "无效的 CRDT 数据: 类型 4, 数据长度: 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &InvalidDataError{
				CRDTType:   tt.crdtType,
				Reason:     tt.reason,
				DataLength: tt.dataLength,
			}

			// 验证Error()方法
			gotMessage := err.Error()
			if gotMessage != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", gotMessage, tt.wantMessage)
			}

			// 验证Unwrap()方法
			if unwrapped := errors.Unwrap(err); unwrapped != ErrInvalidData {
				t.Errorf("Unwrap() = %v, want ErrInvalidData", unwrapped)
			}

			// 验证errors.Is
			if !errors.Is(err, ErrInvalidData) {
				t.Error("errors.Is(err, ErrInvalidData) should be true")
			}
		})
	}
}

func TestInvalidState(t *testing.T) {
	err := invalidState(TypeVectorClock, "测试错误")

	var ide *InvalidDataError
	if !errors.As(err, &ide) {
		t.Fatalf("应为 *InvalidDataError, 实际得到 %T", err)
	}
	if ide.CRDTType != TypeVectorClock || ide.Reason != "测试错误" || ide.DataLength != -1 {
		t.Errorf("字段错误: %+v", ide)
	}
}

func TestMismatchError(t *testing.T) {
	err := MustNewORSet[string]("A").Merge(MustNewPNCounter("A"))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("预期 ErrTypeMismatch, 实际得到 %v", err)
	}
	if !strings.Contains(err.Error(), "*crdt.PNCounter") || !strings.Contains(err.Error(), "ORSet") {
		t.Errorf("错误信息应包含双方类型: %q", err.Error())
	}
}

func TestMergeTypeMismatchAllTypes(t *testing.T) {
	other := NewVectorClock("A")
	targets := []CRDT{
		MustNewPNCounter("A"),
		NewLWWRegister[string](1),
		MustNewORSet[string]("A"),
		MustNewORGraph("A"),
	}
	for _, c := range targets {
		if err := c.Merge(other); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("%s: 预期 ErrTypeMismatch, 实际得到 %v", c.Type(), err)
		}
		if err := c.Merge(nil); !errors.Is(err, ErrTypeMismatch) {
			t.Errorf("%s: 合并 nil 应返回 ErrTypeMismatch, 实际得到 %v", c.Type(), err)
		}
	}
	if err := other.Merge(MustNewPNCounter("A")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("VectorClock: 预期 ErrTypeMismatch, 实际得到 %v", err)
	}

	// 不同元素类型的 LWW 也视为不同类型
	if err := NewLWWRegister[string](1).Merge(NewLWWRegister[int](2)); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("LWW[string] <- LWW[int]: 预期 ErrTypeMismatch, 实际得到 %v", err)
	}
}

func TestEmptyNodeIDRejected(t *testing.T) {
	if c, err := NewPNCounter(""); !errors.Is(err, ErrEmptyNodeID) || c != nil {
		t.Errorf("NewPNCounter(\"\") = %v, %v", c, err)
	}
	if s, err := NewORSet[string](""); !errors.Is(err, ErrEmptyNodeID) || s != nil {
		t.Errorf("NewORSet(\"\") = %v, %v", s, err)
	}
	if g, err := NewORGraph(""); !errors.Is(err, ErrEmptyNodeID) || g != nil {
		t.Errorf("NewORGraph(\"\") = %v, %v", g, err)
	}

	for name, fn := range map[string]func(){
		"PNCounter": func() { MustNewPNCounter("") },
		"ORSet":     func() { MustNewORSet[string]("") },
		"ORGraph":   func() { MustNewORGraph("") },
	} {
		func() {
			defer func() {
				if r := recover(); r != ErrEmptyNodeID {
					t.Errorf("MustNew%s(\"\") 应以 ErrEmptyNodeID panic, 实际得到 %v", name, r)
				}
			}()
			fn()
		}()
	}

	// 合法的节点 ID 构造出的状态总能往返
	s, err := NewORSet[string]("A")
	if err != nil {
		t.Fatal(err)
	}
	s.Add("x")
	data, err := s.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromBytesORSet[string](data)
	if err != nil {
		t.Fatalf("往返失败: %v", err)
	}
	if !back.Equal(s) {
		t.Errorf("往返后不一致: %v / %v", back.Elements(), s.Elements())
	}

	c, err := NewPNCounter("A")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(3); err != nil {
		t.Fatal(err)
	}
	data, err = c.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if got, err := FromBytesPNCounter(data); err != nil || got.Int64() != 3 {
		t.Errorf("往返后 = %v, %v", got, err)
	}
}
