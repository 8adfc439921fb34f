package crdt

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOp       = errors.New("此 CRDT 类型的操作无效")
	ErrInvalidData     = errors.New("无效的 CRDT 数据")
	ErrDeserialization = errors.New("CRDT 反序列化失败")
	ErrTypeMismatch    = errors.New("CRDT 类型不匹配")

	// ErrNegativeAmount 表示计数器收到了负的增量。
	ErrNegativeAmount = errors.New("计数器增量不能为负数")
	// ErrEmptyNodeID 表示缺少副本标识。
	ErrEmptyNodeID = errors.New("节点 ID 不能为空")

	ErrUnknownVertex = errors.New("顶点不存在")
	ErrVertexRemoved = errors.New("顶点已被移除")
)

// InvalidDataError 描述重建 CRDT 时遇到的格式错误的数据。
type InvalidDataError struct {
	CRDTType   Type
	Reason     string
	DataLength int // 小于 0 表示没有原始字节（例如从 State 结构重建）
}

func (e *InvalidDataError) Error() string {
	msg := fmt.Sprintf("%s: 类型 %d", ErrInvalidData.Error(), e.CRDTType)
	if e.Reason != "" {
		msg += ", 原因: " + e.Reason
	}
	if e.DataLength >= 0 {
		msg += fmt.Sprintf(", 数据长度: %d", e.DataLength)
	}
	return msg
}

func (e *InvalidDataError) Unwrap() error {
	return ErrInvalidData
}

func invalidState(t Type, reason string) error {
	return &InvalidDataError{CRDTType: t, Reason: reason, DataLength: -1}
}

func mismatch(want Type, other CRDT) error {
	return fmt.Errorf("%w: cannot merge %T into %s", ErrTypeMismatch, other, want)
}
