package store

import (
	"fmt"
	"log"

	"github.com/shinyes/yep_cvrdt/pkg/crdt"
)

// SnapshotStore 把 CRDT 状态保存为快照。
//
// 每个快照的值为 [类型字节][msgpack 状态]，键为 "snap/<key>"。
// 重启后从快照恢复的副本必须沿用原来的节点 ID。
type SnapshotStore struct {
	s Store
}

func NewSnapshotStore(s Store) *SnapshotStore {
	return &SnapshotStore{s: s}
}

// Encode 返回 c 的快照编码。
func Encode(c crdt.CRDT) ([]byte, error) {
	state, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(state)+1)
	out = append(out, byte(c.Type()))
	return append(out, state...), nil
}

// Decode 解析 Encode 产生的快照。
// ORSet 与 LWWRegister 按 crdt.Deserialize 的默认元素类型还原。
func Decode(data []byte) (crdt.CRDT, error) {
	if len(data) < 1 {
		return nil, &crdt.InvalidDataError{Reason: "快照为空", DataLength: len(data)}
	}
	return crdt.Deserialize(crdt.Type(data[0]), data[1:])
}

// Save 写入 c 的快照，覆盖同名的旧快照。
func (ss *SnapshotStore) Save(key string, c crdt.CRDT) error {
	data, err := Encode(c)
	if err != nil {
		return fmt.Errorf("编码快照 %s 失败: %w", key, err)
	}
	return ss.s.Update(func(tx Tx) error {
		return tx.Set(snapshotKey(key), data, 0)
	})
}

// Raw 返回快照的原始字节。键不存在时返回 ErrKeyNotFound。
func (ss *SnapshotStore) Raw(key string) ([]byte, error) {
	var data []byte
	err := ss.s.View(func(tx Tx) error {
		var err error
		data, err = tx.Get(snapshotKey(key))
		return err
	})
	return data, err
}

// Load 读取并解码快照。键不存在时返回 ErrKeyNotFound。
func (ss *SnapshotStore) Load(key string) (crdt.CRDT, error) {
	data, err := ss.Raw(key)
	if err != nil {
		return nil, err
	}
	c, err := Decode(data)
	if err != nil {
		log.Printf("[SnapshotStore] 快照 %s 无法解码: %v", key, err)
		return nil, err
	}
	return c, nil
}

// Keys 返回所有快照的键（不含前缀），按字典序排列。
func (ss *SnapshotStore) Keys() ([]string, error) {
	var keys []string
	err := ss.s.View(func(tx Tx) error {
		prefix := []byte(snapshotPrefix)
		it := tx.NewIterator(IteratorOptions{Prefix: prefix, KeysOnly: true})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			k, _, err := it.Item()
			if err != nil {
				return err
			}
			keys = append(keys, string(k[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

// Delete 删除快照。删除不存在的快照不是错误。
func (ss *SnapshotStore) Delete(key string) error {
	return ss.s.Update(func(tx Tx) error {
		return tx.Delete(snapshotKey(key))
	})
}
