/**
 * Package logger 提供结构化日志功能
 *
 * 基于 uber-go/zap 实现，守护进程的所有组件都通过本包记录日志。
 * 文件输出通过 lumberjack 做按大小滚动。
 */
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// logger 全局日志实例
	logger *zap.Logger

	// once 确保日志只初始化一次
	once sync.Once

	// sugar 全局 sugared logger 实例
	sugar *zap.SugaredLogger
)

// Options 日志初始化选项
//
// 零值等价于开发环境配置（控制台彩色输出，debug 级别）。
type Options struct {
	// Level 日志级别（debug/info/warn/error），为空时按环境取默认值
	Level string

	// Format 输出格式：console 或 json
	Format string

	// File 文件输出配置，Path 为空时只输出到标准输出
	File FileOptions
}

// FileOptions 日志文件滚动配置
type FileOptions struct {
	// Path 日志文件路径
	Path string

	// MaxSizeMB 单个文件最大尺寸（MB）
	MaxSizeMB int

	// MaxBackups 保留的旧文件个数
	MaxBackups int

	// MaxAgeDays 旧文件最长保留天数
	MaxAgeDays int

	// Compress 是否压缩旧文件
	Compress bool
}

// InitLogger 初始化日志系统
//
// 根据环境变量配置日志系统：
//   - ENV: development（默认）或 production
//   - LOG_LEVEL: 日志级别，默认根据环境自动设置
//   - LOG_FILE: 生产环境下的日志文件路径（可选）
//
// Returns: error - 初始化失败时返回错误
func InitLogger() error {
	opts := Options{
		Level: os.Getenv("LOG_LEVEL"),
	}
	if getEnv("ENV", "development") == "production" {
		opts.Format = "json"
		opts.File.Path = os.Getenv("LOG_FILE")
	}
	return InitWithOptions(opts)
}

// InitWithOptions 使用显式选项初始化日志系统
//
// 与 InitLogger 共用同一个 sync.Once，先调用者生效。
//
// Parameters:
//   - opts: 日志选项
//
// Returns: error - 初始化失败时返回错误
func InitWithOptions(opts Options) error {
	var initErr error
	once.Do(func() {
		logger, initErr = build(opts)
		if initErr != nil {
			return
		}
		sugar = logger.Sugar()
	})
	return initErr
}

// build 根据选项构造 zap.Logger
//
// json 格式对应生产配置（ISO8601 时间、error 级别附带堆栈），
// 其它格式对应开发配置（彩色级别、毫秒时间）。
func build(opts Options) (*zap.Logger, error) {
	production := opts.Format == "json"

	var encoderConfig zapcore.EncoderConfig
	var defaultLevel zapcore.Level
	if production {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		defaultLevel = zapcore.InfoLevel
	} else {
		encoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999"),
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
		defaultLevel = zapcore.DebugLevel
	}

	level := defaultLevel
	if opts.Level != "" {
		if parsed, err := zapcore.ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	var encoder zapcore.Encoder
	if production {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), atomicLevel),
	}

	// 文件输出一律使用 JSON，便于后续采集
	if opts.File.Path != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(newRotatingWriter(opts.File)),
			atomicLevel,
		))
	}

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if !production {
		zapOpts = append(zapOpts, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), zapOpts...), nil
}

// newRotatingWriter 创建按大小滚动的文件写入器
func newRotatingWriter(file FileOptions) *lumberjack.Logger {
	maxSize := file.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    maxSize,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
}

// GetLogger 获取全局 logger 实例
//
// 如果日志系统未初始化，会自动按环境变量初始化。
func GetLogger() *zap.Logger {
	if logger == nil {
		_ = InitLogger()
	}
	return logger
}

// GetSugaredLogger 获取全局 sugared logger 实例
func GetSugaredLogger() *zap.SugaredLogger {
	if sugar == nil {
		_ = InitLogger()
	}
	return sugar
}

// Sync 刷新日志缓冲区
//
// 进程退出前应该调用此方法确保所有日志都已写入。
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Debug 记录 Debug 级别日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 记录 Info 级别日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 记录 Warn 级别日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 记录 Error 级别日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal 记录 Fatal 级别日志后退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// ReplaceLogger 替换全局 logger，返回恢复函数
//
// 用于测试中挂接 zaptest/observer 检查日志输出。
func ReplaceLogger(l *zap.Logger) func() {
	prevLogger, prevSugar := logger, sugar
	once.Do(func() {})
	logger = l
	sugar = l.Sugar()
	return func() {
		logger, sugar = prevLogger, prevSugar
	}
}

// With 创建带有预设字段的 logger
//
// 组件通常以 component / device 字段派生自己的 logger。
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// getEnv 获取环境变量，不存在时返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
