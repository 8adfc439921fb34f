package hlc

import (
	"sync"
	"time"
)

// Clock 代表混合逻辑时钟。
// 它保证单调递增，并跟踪因果关系。
// 时间戳被打包为 int64：
//   - 高 48 位：物理时间 (毫秒)，从 Unix Epoch 开始。
//   - 低 16 位：逻辑计数器。
type Clock struct {
	mu     sync.Mutex
	latest int64 // 当前已知的最大 HLC 时间戳 (packed)
	wall   func() time.Time
}

const (
	logicalBits = 16
	logicalMask = 0xFFFF
)

// New 创建一个使用系统时间的 HLC 时钟。
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource 创建一个使用指定物理时间源的 HLC 时钟。
func NewWithSource(wall func() time.Time) *Clock {
	return &Clock{wall: wall}
}

func pack(phys, logical int64) int64 {
	// 逻辑计数溢出时向物理时间借位
	if logical > logicalMask {
		phys++
		logical = 0
	}
	return phys<<logicalBits | logical
}

// Now 返回当前的 HLC 时间戳，并更新内部状态。
// 返回的时间戳严格大于任何先前返回或更新过的时间戳。
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall().UnixMilli()
	oldPhys, oldLogical := Physical(c.latest), int64(Logical(c.latest))

	if phys > oldPhys {
		c.latest = pack(phys, 0)
	} else {
		// 物理时间倒退或相等：增加逻辑计数
		c.latest = pack(oldPhys, oldLogical+1)
	}
	return c.latest
}

// Time 返回 Now() 对应的 time.Time。
// 逻辑计数被编码为毫秒内的纳秒偏移，因此返回值同样严格递增。
func (c *Clock) Time() time.Time {
	return ToTime(c.Now())
}

// Update 根据接收到的远程时间戳更新本地时钟。
func (c *Clock) Update(remoteTs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.wall().UnixMilli()
	remotePhys, remoteLogical := Physical(remoteTs), int64(Logical(remoteTs))
	oldPhys, oldLogical := Physical(c.latest), int64(Logical(c.latest))

	newPhys := max(oldPhys, remotePhys, phys)

	var newLogical int64
	switch {
	case newPhys == oldPhys && newPhys == remotePhys:
		newLogical = max(oldLogical, remoteLogical) + 1
	case newPhys == oldPhys:
		newLogical = oldLogical + 1
	case newPhys == remotePhys:
		newLogical = remoteLogical + 1
	}

	c.latest = pack(newPhys, newLogical)
}

// UpdateTime 以 time.Time 形式观察一个远程时间。
func (c *Clock) UpdateTime(t time.Time) {
	c.Update(FromTime(t))
}

// Physical 返回时间戳的物理部分 (Unix Milli)。
func Physical(ts int64) int64 {
	return ts >> logicalBits
}

// Logical 返回时间戳的逻辑部分。
func Logical(ts int64) uint16 {
	return uint16(ts & logicalMask)
}

// ToTime 把 HLC 时间戳转换为 time.Time。
func ToTime(ts int64) time.Time {
	return time.UnixMilli(Physical(ts)).Add(time.Duration(Logical(ts)))
}

// FromTime 是 ToTime 的逆运算；毫秒内超出逻辑范围的纳秒被截断。
func FromTime(t time.Time) int64 {
	ms := t.UnixMilli()
	sub := t.Sub(time.UnixMilli(ms)).Nanoseconds()
	if sub > logicalMask {
		sub = logicalMask
	}
	return ms<<logicalBits | sub
}

// Compare 比较两个 HLC 时间戳。
// 返回值:
//   - 如果 a > b: 返回 1
//   - 如果 a == b: 返回 0
//   - 如果 a < b: 返回 -1
func Compare(a, b int64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
