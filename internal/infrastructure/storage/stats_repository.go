package storage

import (
	"database/sql"
	"fmt"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

/**
 * KeyCount 某个小时桶内某个按键的按下次数增量
 */
type KeyCount struct {
	// DeviceID 设备编号
	DeviceID int

	// Bucket 小时桶，格式 YYYYMMDDHH
	Bucket string

	// KeyName 按键名
	KeyName string

	// Count 增量
	Count int64
}

/**
 * StatsRepository 按键统计存储接口
 */
type StatsRepository interface {
	// AddCounts 累加一批计数
	AddCounts(counts []KeyCount) error

	// FindByBucket 查询某个小时桶的全部计数
	FindByBucket(deviceID int, bucket string) (map[string]int64, error)
}

/**
 * SQLiteStatsRepository SQLite 统计仓储实现
 */
type SQLiteStatsRepository struct {
	db *sql.DB
}

/**
 * NewSQLiteStatsRepository 创建 SQLite 统计仓储
 */
func NewSQLiteStatsRepository(db *sql.DB) *SQLiteStatsRepository {
	return &SQLiteStatsRepository{db: db}
}

/**
 * AddCounts 批量累加计数
 *
 * 使用事务和预处理语句，整批要么全部生效要么全部回滚
 *
 * Parameters:
 *   - counts: 计数增量
 *
 * Returns: error - 错误信息
 */
func (r *SQLiteStatsRepository) AddCounts(counts []KeyCount) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO key_stats (device_id, bucket, key_name, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, bucket, key_name) DO UPDATE SET
			count = key_stats.count + excluded.count
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("预处理语句失败: %w", err)
	}
	defer stmt.Close()

	for _, c := range counts {
		if _, err := stmt.Exec(c.DeviceID, c.Bucket, c.KeyName, c.Count); err != nil {
			tx.Rollback()
			logger.Error("累加按键统计失败",
				zap.String("bucket", c.Bucket),
				zap.String("key", c.KeyName),
				zap.Error(err),
			)
			return fmt.Errorf("累加按键统计失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

/**
 * FindByBucket 查询小时桶计数
 *
 * Returns: map[string]int64 - 按键名 -> 次数
 */
func (r *SQLiteStatsRepository) FindByBucket(deviceID int, bucket string) (map[string]int64, error) {
	rows, err := r.db.Query(
		"SELECT key_name, count FROM key_stats WHERE device_id = ? AND bucket = ?",
		deviceID, bucket,
	)
	if err != nil {
		return nil, fmt.Errorf("查询按键统计失败: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("扫描按键统计失败: %w", err)
		}
		result[key] = count
	}
	return result, rows.Err()
}
