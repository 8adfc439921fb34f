package store

import (
	"errors"
	"io"
)

var (
	ErrKeyNotFound = errors.New("key not found")
)

// 键空间：
//
//	snap/<root>  一个 CRDT 根的快照，值为 [类型字节][msgpack 状态]
//
// 一个 Store 只属于一个副本，快照里记录的 node_identity 必须与该副本一致。
// 其他前缀保留给调用方。
const snapshotPrefix = "snap/"

func snapshotKey(root string) []byte {
	return []byte(snapshotPrefix + root)
}

// Store 代表底层 KV 存储接口 (例如 BadgerDB)。
// 每个副本拥有一个 Store 实例，用来保存 CRDT 快照。
type Store interface {
	// Close 关闭存储。
	Close() error

	// RunTx 运行事务。
	// 如果 update 为 true，则为读写事务。否则为只读事务。
	RunTx(update bool, fn func(Tx) error) error

	// View 执行只读事务。
	View(fn func(Tx) error) error

	// Update 执行读写事务。
	Update(fn func(Tx) error) error
}

// Tx 代表事务。
type Tx interface {
	// Set 设置键的值。
	// ttl 以秒为单位，0 表示无 TTL。快照总是以 0 写入：
	// 过期的快照会让副本丢掉已经确认过的令牌。
	Set(key, value []byte, ttl int64) error

	// Get 获取键的值。
	// 如果键不存在返回 ErrKeyNotFound。
	Get(key []byte) ([]byte, error)

	// Delete 删除键。删除不存在的键不是错误。
	Delete(key []byte) error

	// NewIterator 使用选项创建新的迭代器。
	NewIterator(opts IteratorOptions) Iterator
}

// IteratorOptions 定义迭代器的选项。
type IteratorOptions struct {
	Prefix   []byte
	Reverse  bool // 如果为 true，则按反序迭代。
	KeysOnly bool // 只读取键，Item 返回的值为 nil。
}

// Iterator 遍历存储中的键。
type Iterator interface {
	Seek(key []byte)
	Rewind()
	Valid() bool
	ValidForPrefix(prefix []byte) bool
	Next()

	// Item 返回当前项（键和值）的副本。
	Item() (key, value []byte, err error)

	Close()
}

// Backuper 是能导出与导入整个副本数据的存储。
// 备份包含全部快照，恢复后的副本必须沿用原来的节点 ID。
type Backuper interface {
	// Backup 写出 since 之后的数据，返回下一次增量备份使用的版本。
	Backup(w io.Writer, since uint64) (uint64, error)
	// Load 导入 Backup 产生的数据流。
	Load(r io.Reader, maxPendingWrites int) error
}
