package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultRestoreMaxPendingWrites = 256

// BackupToFile 把 s 的数据导出到一个本地文件。
// since 为 0 表示全量备份，否则是自返回版本以来的增量备份。
// 先写临时文件，成功后再替换目标文件。
func BackupToFile(s Store, path string, since uint64) (uint64, error) {
	backupPath := strings.TrimSpace(path)
	if backupPath == "" {
		return 0, fmt.Errorf("backup path cannot be empty")
	}

	loader, ok := s.(Backuper)
	if !ok {
		return 0, fmt.Errorf("store does not support backup/load: %T", s)
	}

	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return 0, err
	}

	tmpPath := backupPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	cleanupTmp := true
	defer func() {
		_ = tmpFile.Close()
		if cleanupTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	sinceOut, err := loader.Backup(tmpFile, since)
	if err != nil {
		return 0, err
	}
	if err := tmpFile.Sync(); err != nil {
		return 0, err
	}
	if err := tmpFile.Close(); err != nil {
		return 0, err
	}

	if err := replaceFile(backupPath, tmpPath); err != nil {
		return 0, err
	}
	cleanupTmp = false

	return sinceOut, nil
}

func replaceFile(destPath string, tmpPath string) error {
	oldPath := destPath + ".old"
	hasOriginal := false

	if _, err := os.Stat(destPath); err == nil {
		_ = os.Remove(oldPath)
		if err := os.Rename(destPath, oldPath); err != nil {
			return err
		}
		hasOriginal = true
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		if hasOriginal {
			_ = os.Rename(oldPath, destPath)
		}
		return err
	}
	if hasOriginal {
		_ = os.Remove(oldPath)
	}
	return nil
}

// RestoreConfig 描述如何从备份文件恢复一个副本的存储。
type RestoreConfig struct {
	BackupPath       string
	Path             string
	BadgerOptions    []BadgerOption
	MaxPendingWrites int  // <=0 使用默认值
	ReplaceExisting  bool // true 表示恢复前删除目标目录
}

// RestoreFromFile 把备份文件导入 cfg.Path 处的新存储并返回它。
// 目标目录非空且未设置 ReplaceExisting 时拒绝恢复。
func RestoreFromFile(cfg RestoreConfig) (*BadgerStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("badger path cannot be empty")
	}
	backupPath := strings.TrimSpace(cfg.BackupPath)
	if backupPath == "" {
		return nil, fmt.Errorf("backup path cannot be empty")
	}
	if cfg.MaxPendingWrites < 0 {
		return nil, fmt.Errorf("max pending writes must be >= 0, got %d", cfg.MaxPendingWrites)
	}

	if cfg.ReplaceExisting {
		if err := os.RemoveAll(path); err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if len(entries) > 0 {
			return nil, fmt.Errorf("target store path is not empty: %s", path)
		}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		return nil, err
	}
	defer backupFile.Close()

	kv, err := NewBadgerStore(path, cfg.BadgerOptions...)
	if err != nil {
		return nil, err
	}

	maxPendingWrites := cfg.MaxPendingWrites
	if maxPendingWrites <= 0 {
		maxPendingWrites = defaultRestoreMaxPendingWrites
	}
	if err := kv.Load(backupFile, maxPendingWrites); err != nil {
		_ = kv.Close()
		return nil, err
	}
	return kv, nil
}
