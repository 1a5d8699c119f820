package monitor

import (
	"time"
)

// bucketLayout 小时桶格式 YYYYMMDDHH
const bucketLayout = "2006010215"

// BucketKey 事件时间所在的小时桶
func BucketKey(t time.Time) string {
	return t.Format(bucketLayout)
}

// keyStats 按小时统计每个按键的按下次数
//
// 每个桶是一个定长计数数组，按 Keymap 的按键编号索引；
// 新建桶时所有已知按键的计数都为 0。桶不会被清理。
// 不加锁，由 KeyManager 的锁保护。
type keyStats struct {
	keymap  *Keymap
	buckets map[string][]uint64
}

func newKeyStats(keymap *Keymap) *keyStats {
	return &keyStats{
		keymap:  keymap,
		buckets: make(map[string][]uint64),
	}
}

// increment 计数加一，按键不在映射表中返回 false
func (s *keyStats) increment(bucket, keyName string) bool {
	idx, ok := s.keymap.KeyIndex(keyName)
	if !ok {
		return false
	}

	counters, exists := s.buckets[bucket]
	if !exists {
		counters = make([]uint64, s.keymap.Len())
		s.buckets[bucket] = counters
	}
	counters[idx]++
	return true
}

// snapshot 拷贝为 桶 -> 按键名 -> 次数，包含计数为 0 的按键
func (s *keyStats) snapshot() map[string]map[string]uint64 {
	names := s.keymap.Names()
	out := make(map[string]map[string]uint64, len(s.buckets))
	for bucket, counters := range s.buckets {
		m := make(map[string]uint64, len(names))
		for i, name := range names {
			m[name] = counters[i]
		}
		out[bucket] = m
	}
	return out
}
