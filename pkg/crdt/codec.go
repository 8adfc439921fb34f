package crdt

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeState 使用 msgpack 编码哈希表示。
func encodeState(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decodeState(t Type, data []byte, v any) error {
	if data == nil {
		return &InvalidDataError{CRDTType: t, Reason: "输入数据为 nil", DataLength: 0}
	}
	if len(data) == 0 {
		return &InvalidDataError{CRDTType: t, Reason: "输入数据为空", DataLength: 0}
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeserialization, t, err)
	}
	return nil
}

// Deserialize 根据类型反序列化 CRDT。
// 注意：对于泛型类型只能使用默认类型：ORSet[string] 与 LWWRegister[[]byte]。
// 如果需要其他元素类型，请直接使用 FromBytesORSet[T] 等函数。
func Deserialize(t Type, data []byte) (CRDT, error) {
	switch t {
	case TypePNCounter:
		return asCRDT(FromBytesPNCounter(data))
	case TypeVectorClock:
		return asCRDT(FromBytesVectorClock(data))
	case TypeLWW:
		return asCRDT(FromBytesLWW[[]byte](data))
	case TypeORSet:
		return asCRDT(FromBytesORSet[string](data))
	case TypeORGraph:
		return asCRDT(FromBytesORGraph(data))
	default:
		return nil, &InvalidDataError{CRDTType: t, Reason: "未知的 CRDT 类型", DataLength: len(data)}
	}
}

// asCRDT 避免把带类型的 nil 指针包装成非 nil 接口。
func asCRDT[C CRDT](c C, err error) (CRDT, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
