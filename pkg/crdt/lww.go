package crdt

import (
	"cmp"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/shinyes/yep_cvrdt/pkg/hlc"
)

// Timestamp 是 LWW 写入的戳：(秒, 秒内纳秒, 决胜值)，按字典序全序比较。
type Timestamp struct {
	Seconds    int64
	Nanos      int64
	Tiebreaker uint64
}

// Compare 按字典序比较两个戳。
func (t Timestamp) Compare(o Timestamp) int {
	if c := cmp.Compare(t.Seconds, o.Seconds); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Nanos, o.Nanos); c != 0 {
		return c
	}
	return cmp.Compare(t.Tiebreaker, o.Tiebreaker)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Nanos)
}

// next 返回同一写者下严格大于 t 的最小戳。
func (t Timestamp) next(tiebreaker uint64) Timestamp {
	n := Timestamp{Seconds: t.Seconds, Nanos: t.Nanos, Tiebreaker: tiebreaker}
	if n.Compare(t) > 0 {
		return n
	}
	n.Nanos++
	if n.Nanos >= int64(time.Second) {
		n.Seconds++
		n.Nanos = 0
	}
	return n
}

// NewTiebreaker 从随机 UUID 派生一个决胜值。
// 决胜值应当对每个写者全局唯一，创建寄存器时分配一次。
func NewTiebreaker() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:])
}

// LWWRegister 实现最后写入胜出 (Last-Write-Wins) 寄存器。
//
// 它假设各节点时钟大致同步；时钟漂移超过写入间隔时，
// 较早的真实写入可能胜出。
type LWWRegister[T any] struct {
	value      T
	written    bool
	stamp      Timestamp
	tiebreaker uint64
	now        func() time.Time
}

// LWWOption 配置 LWWRegister。
type LWWOption func(*lwwConfig)

type lwwConfig struct {
	now func() time.Time
}

// WithTimeSource 设置写入时使用的时间源。
func WithTimeSource(now func() time.Time) LWWOption {
	return func(c *lwwConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHLC 使用混合逻辑时钟作为时间源，保证本地写入的戳严格递增。
func WithHLC(clock *hlc.Clock) LWWOption {
	return func(c *lwwConfig) {
		c.now = clock.Time
	}
}

// NewLWWRegister 创建一个尚未写入的寄存器。
func NewLWWRegister[T any](tiebreaker uint64, opts ...LWWOption) *LWWRegister[T] {
	cfg := lwwConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LWWRegister[T]{
		tiebreaker: tiebreaker,
		now:        cfg.now,
	}
}

func (r *LWWRegister[T]) Type() Type {
	return TypeLWW
}

func (r *LWWRegister[T]) Value() any {
	return r.value
}

// Get 返回当前值；寄存器从未写入时 ok 为 false。
func (r *LWWRegister[T]) Get() (T, bool) {
	return r.value, r.written
}

// Stamp 返回当前值的写入戳。
func (r *LWWRegister[T]) Stamp() Timestamp {
	return r.stamp
}

func (r *LWWRegister[T]) Tiebreaker() uint64 {
	return r.tiebreaker
}

// Set 替换值，并用当前时间和本寄存器的决胜值盖戳。
// 如果时钟回拨，戳会被推进到刚好大于已观察到的最大戳，
// 以保证状态始终反映最大戳的写入。
func (r *LWWRegister[T]) Set(v T) {
	now := r.now()
	stamp := Timestamp{
		Seconds:    now.Unix(),
		Nanos:      int64(now.Nanosecond()),
		Tiebreaker: r.tiebreaker,
	}
	if r.written && stamp.Compare(r.stamp) <= 0 {
		stamp = r.stamp.next(r.tiebreaker)
	}
	r.value = v
	r.stamp = stamp
	r.written = true
}

// Merge 当对方的戳按字典序严格更大时采用对方的状态。
// 不能对三个字段分别要求 >=，那样会拒绝决胜值较小的较新写入并破坏交换律。
func (r *LWWRegister[T]) Merge(other CRDT) error {
	o, ok := other.(*LWWRegister[T])
	if !ok {
		return mismatch(TypeLWW, other)
	}
	if !o.written {
		return nil
	}
	if r.written && o.stamp.Compare(r.stamp) <= 0 {
		return nil
	}
	r.value = o.value
	r.stamp = o.stamp
	r.written = true
	return nil
}

// Clone 返回一个独立的副本（值本身按值复制，不做深拷贝）。
func (r *LWWRegister[T]) Clone() *LWWRegister[T] {
	c := *r
	return &c
}

// LWWState 是 LWWRegister 的哈希表示。
// timestamp 为 nil 表示寄存器从未写入。
type LWWState[T any] struct {
	Value               T      `msgpack:"value" json:"value"`
	Timestamp           *int64 `msgpack:"timestamp" json:"timestamp"`
	TimestampSubsecond  int64  `msgpack:"timestamp_subsecond" json:"timestamp_subsecond"`
	TimestampTiebreaker uint64 `msgpack:"timestamp_tiebreaker" json:"timestamp_tiebreaker"`
	Tiebreaker          uint64 `msgpack:"tiebreaker" json:"tiebreaker"`
}

func (r *LWWRegister[T]) State() LWWState[T] {
	s := LWWState[T]{Value: r.value, Tiebreaker: r.tiebreaker}
	if r.written {
		ts := r.stamp.Seconds
		s.Timestamp = &ts
		s.TimestampSubsecond = r.stamp.Nanos
		s.TimestampTiebreaker = r.stamp.Tiebreaker
	}
	return s
}

// LWWFromState 从哈希表示重建 LWWRegister。
func LWWFromState[T any](s LWWState[T], opts ...LWWOption) (*LWWRegister[T], error) {
	if s.TimestampSubsecond < 0 || s.TimestampSubsecond >= int64(time.Second) {
		return nil, invalidState(TypeLWW, "timestamp_subsecond 超出范围")
	}
	r := NewLWWRegister[T](s.Tiebreaker, opts...)
	if s.Timestamp == nil {
		return r, nil
	}
	r.value = s.Value
	r.written = true
	r.stamp = Timestamp{
		Seconds:    *s.Timestamp,
		Nanos:      s.TimestampSubsecond,
		Tiebreaker: s.TimestampTiebreaker,
	}
	return r, nil
}

func (r *LWWRegister[T]) Bytes() ([]byte, error) {
	return encodeState(r.State())
}

// FromBytesLWW 反序列化 LWWRegister。
func FromBytesLWW[T any](data []byte, opts ...LWWOption) (*LWWRegister[T], error) {
	var s LWWState[T]
	if err := decodeState(TypeLWW, data, &s); err != nil {
		return nil, err
	}
	return LWWFromState(s, opts...)
}
