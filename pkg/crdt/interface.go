package crdt

// Type 标识 CRDT 的类型。
// 它也是快照编码的第一个字节，已分配的值不能修改。
type Type byte

const (
	TypePNCounter   Type = 0x01
	TypeVectorClock Type = 0x02
	TypeLWW         Type = 0x03
	TypeORSet       Type = 0x04
	TypeORGraph     Type = 0x05
)

func (t Type) String() string {
	switch t {
	case TypePNCounter:
		return "PNCounter"
	case TypeVectorClock:
		return "VectorClock"
	case TypeLWW:
		return "LWWRegister"
	case TypeORSet:
		return "ORSet"
	case TypeORGraph:
		return "ORGraph"
	default:
		return "Unknown"
	}
}

// CRDT 是所有基于状态的 CRDT 实现的通用接口。
//
// 所有实现都是单写者的值对象，内部不加锁；
// 同一实例的并发修改必须由调用方串行化。
type CRDT interface {
	// Type 返回 CRDT 的类型。
	Type() Type

	// Value 返回 CRDT 面向用户的值。
	Value() any

	// Merge 将另一个同类型副本的状态合并到此状态中。
	// 合并满足交换律、结合律和幂等律，且只增加信息。
	Merge(other CRDT) error

	// Bytes 将 CRDT 状态序列化为字节。
	Bytes() ([]byte, error)
}

// Compactor 由支持基于令牌的垃圾回收的类型实现（ORSet、ORGraph）。
//
// GC 只能在静默 (quiescence) 之后调用：调用方必须保证以后的合并
// 再也不会带来 node 发出的、计数器 <= until 的令牌。
// 这一前置条件在本地无法检测。
type Compactor interface {
	GC(node NodeID, until uint64) int
}
