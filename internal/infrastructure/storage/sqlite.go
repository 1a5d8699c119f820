/**
 * Package storage 提供数据持久化功能
 *
 * 负责将录制的宏与按键统计持久化到 SQLite
 */

package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	_ "github.com/mattn/go-sqlite3" // SQLite 驱动
	"go.uber.org/zap"
)

// DefaultBusyTimeout 写锁被占用时的等待时长
//
// 统计批量刷新和宏保存在不同 goroutine 中写同一个库，
// 没有等待时后到的写入会立即得到 SQLITE_BUSY。
const DefaultBusyTimeout = 5 * time.Second

// memoryPath 内存数据库路径
const memoryPath = ":memory:"

// uriPathEscaper 转义 SQLite URI 路径中有特殊含义的字符
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

/**
 * SQLiteConfig SQLite 配置
 */
type SQLiteConfig struct {
	// Path 数据库文件路径，":memory:" 表示共享缓存的内存库
	Path string

	// MaxOpenConns 最大打开连接数
	MaxOpenConns int

	// MaxIdleConns 最大空闲连接数
	MaxIdleConns int

	// ConnMaxLifetime 连接最大生命周期
	ConnMaxLifetime time.Duration

	// BusyTimeout 等待写锁的时长，0 使用 DefaultBusyTimeout
	BusyTimeout time.Duration
}

/**
 * NewSQLiteDB 创建 SQLite 数据库连接
 *
 * 连接参数写在 DSN 中，连接池里的每个连接都会生效：
 *   - journal_mode=WAL：宏查询不阻塞统计写入（仅文件库）
 *   - busy_timeout：并发写入时排队等待而不是立即失败
 *   - _txlock=immediate：事务开始即取写锁，避免两个读事务同时升级为写事务时的死锁
 *
 * Parameters:
 *   - config: SQLite 配置
 *
 * Returns: *sql.DB - 数据库连接实例, error - 错误信息
 */
func NewSQLiteDB(config SQLiteConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("数据库路径为空")
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = DefaultBusyTimeout
	}

	logger.Info("创建 SQLite 数据库连接",
		zap.String("component", "storage"),
		zap.String("path", config.Path),
		zap.Duration("busy_timeout", config.BusyTimeout),
	)

	db, err := sql.Open("sqlite3", buildDSN(config))
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		logger.Error("数据库连接验证失败", zap.String("component", "storage"), zap.Error(err))
		return nil, fmt.Errorf("数据库连接验证失败: %w", err)
	}

	return db, nil
}

// buildDSN 生成 go-sqlite3 的连接串
func buildDSN(config SQLiteConfig) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(config.BusyTimeout.Milliseconds(), 10))
	params.Set("_txlock", "immediate")

	if config.Path == memoryPath {
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		return "file::memory:?" + params.Encode()
	}

	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	return "file:" + uriPathEscaper.Replace(config.Path) + "?" + params.Encode()
}
