/**
 * Package config 提供配置管理功能
 *
 * 负责加载和管理守护进程的配置信息
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

/**
 * Config 守护进程配置结构体
 */
type Config struct {
	// Application 应用基本配置
	Application ApplicationConfig `yaml:"application"`

	// Device 设备配置
	Device DeviceConfig `yaml:"device"`

	// Keymap 按键映射表配置
	Keymap KeymapConfig `yaml:"keymap"`

	// Statistics 按键统计配置
	Statistics StatisticsConfig `yaml:"statistics"`

	// TempStore 临时按键缓冲配置
	TempStore TempStoreConfig `yaml:"temp_store"`

	// Storage 存储配置
	Storage StorageConfig `yaml:"storage"`

	// Logging 日志配置
	Logging LoggingConfig `yaml:"logging"`
}

/**
 * ApplicationConfig 应用基本配置
 */
type ApplicationConfig struct {
	/** 应用名称 */
	Name string `yaml:"name"`

	/** 应用版本 */
	Version string `yaml:"version"`
}

/**
 * DeviceConfig 设备配置
 */
type DeviceConfig struct {
	/** 设备编号，用于日志与事件来源 */
	ID int `yaml:"id"`

	/** 输入事件文件，如 /dev/input/by-id/...-event-kbd */
	EventFiles []string `yaml:"event_files"`

	/** 驱动属性目录（包含 mode_macro、mode_game 等文件） */
	DriverPath string `yaml:"driver_path"`

	/** 轮询间隔 */
	PollInterval time.Duration `yaml:"poll_interval"`

	/** 停止读取线程的最长等待时间 */
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

/**
 * KeymapConfig 按键映射表配置
 */
type KeymapConfig struct {
	/** 覆盖默认映射表的 YAML 文件路径，为空时使用内置表 */
	Path string `yaml:"path"`
}

/**
 * StatisticsConfig 按键统计配置
 */
type StatisticsConfig struct {
	/** 是否持久化按键统计 */
	KeyStatistics bool `yaml:"key_statistics"`

	/** 批量写入大小 */
	BatchSize int `yaml:"batch_size"`

	/** 批量写入刷新间隔 */
	FlushInterval time.Duration `yaml:"flush_interval"`
}

/**
 * TempStoreConfig 临时按键缓冲配置
 */
type TempStoreConfig struct {
	/** 启动时是否开启临时按键缓冲 */
	Enabled bool `yaml:"enabled"`
}

/**
 * StorageConfig 存储配置
 */
type StorageConfig struct {
	/** SQLite 配置 */
	SQLite SQLiteConfig `yaml:"sqlite"`
}

/**
 * SQLiteConfig SQLite 配置
 */
type SQLiteConfig struct {
	/** 数据库文件路径 */
	Path string `yaml:"path"`

	/** 最大打开连接数 */
	MaxOpenConns int `yaml:"max_open_conns"`

	/** 最大空闲连接数 */
	MaxIdleConns int `yaml:"max_idle_conns"`

	/** 连接最大生命周期 */
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	/** 等待写锁的时长 */
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

/**
 * LoggingConfig 日志配置
 */
type LoggingConfig struct {
	/** 日志级别 */
	Level string `yaml:"level"`

	/** 日志格式：console 或 json */
	Format string `yaml:"format"`

	/** 文件配置 */
	File FileConfig `yaml:"file"`
}

/**
 * FileConfig 日志文件配置
 */
type FileConfig struct {
	/** 日志文件路径 */
	Path string `yaml:"path"`

	/** 最大文件大小（MB） */
	MaxSizeMB int `yaml:"max_size_mb"`

	/** 最大备份文件数 */
	MaxBackups int `yaml:"max_backups"`

	/** 最大保留天数 */
	MaxAgeDays int `yaml:"max_age_days"`

	/** 是否压缩 */
	Compress bool `yaml:"compress"`
}

/**
 * DefaultPath 默认配置文件路径 ~/.keyflow/config.yaml
 */
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".keyflow", "config.yaml"), nil
}

/**
 * Load 加载配置文件
 *
 * path 为空时使用 DefaultPath；文件不存在时返回默认配置。
 * 文件中未出现的字段保留默认值。
 *
 * Returns:
 *   - *Config: 加载的配置
 *   - error: 读取或解析失败
 */
func Load(path string) (*Config, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	config := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		expandEnvVars(config)
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	expandEnvVars(config)
	applyFallbacks(config)

	return config, nil
}

/**
 * Default 返回默认配置
 */
func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:    "keyflowd",
			Version: "1.0.0",
		},
		Device: DeviceConfig{
			PollInterval: 10 * time.Millisecond,
			StopTimeout:  2 * time.Second,
		},
		Statistics: StatisticsConfig{
			KeyStatistics: true,
			BatchSize:     100,
			FlushInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:            "${HOME}/.keyflow/keyflow.db",
				MaxOpenConns:    1,
				MaxIdleConns:    1,
				ConnMaxLifetime: time.Hour,
				BusyTimeout:     5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

/**
 * applyFallbacks 为显式写成零值的关键字段补回默认值
 */
func applyFallbacks(config *Config) {
	defaults := Default()
	if config.Device.PollInterval <= 0 {
		config.Device.PollInterval = defaults.Device.PollInterval
	}
	if config.Device.StopTimeout <= 0 {
		config.Device.StopTimeout = defaults.Device.StopTimeout
	}
	if config.Statistics.BatchSize <= 0 {
		config.Statistics.BatchSize = defaults.Statistics.BatchSize
	}
	if config.Statistics.FlushInterval <= 0 {
		config.Statistics.FlushInterval = defaults.Statistics.FlushInterval
	}
}

/**
 * expandEnvVars 展开路径字段中的环境变量，如 ${HOME}
 */
func expandEnvVars(config *Config) {
	config.Storage.SQLite.Path = os.ExpandEnv(config.Storage.SQLite.Path)
	config.Logging.File.Path = os.ExpandEnv(config.Logging.File.Path)
	config.Keymap.Path = os.ExpandEnv(config.Keymap.Path)
	config.Device.DriverPath = os.ExpandEnv(config.Device.DriverPath)
	for i, path := range config.Device.EventFiles {
		config.Device.EventFiles[i] = os.ExpandEnv(path)
	}
}
