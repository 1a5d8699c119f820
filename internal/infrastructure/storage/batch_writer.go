package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

/**
 * BatchWriterConfig 批量写入器配置
 */
type BatchWriterConfig struct {
	// BatchSize 批量大小（缓冲的按键次数达到此数量时自动刷新）
	BatchSize int

	// FlushInterval 刷新间隔（定时刷新）
	FlushInterval time.Duration

	// EventBuffer 缓冲区大小（channel 容量）
	EventBuffer int
}

/**
 * DefaultBatchWriterConfig 默认配置
 */
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: 30 * time.Second,
		EventBuffer:   1000,
	}
}

/**
 * BatchWriterStats 批量写入器统计信息
 */
type BatchWriterStats struct {
	// TotalEvents 收到的按键数
	TotalEvents atomic.Int64

	// PersistedEvents 成功持久化的按键数
	PersistedEvents atomic.Int64

	// FailedEvents 写入失败的按键数
	FailedEvents atomic.Int64

	// DroppedEvents 通道满时丢弃的按键数
	DroppedEvents atomic.Int64
}

type countKey struct {
	device int
	bucket string
	key    string
}

/**
 * BatchWriter 批量写入器
 *
 * 缓冲按键事件，按 (设备, 小时桶, 按键) 聚合后批量累加到数据库
 */
type BatchWriter struct {
	repo   StatsRepository
	config BatchWriterConfig

	// 事件通道
	eventChan chan events.KeyPressEventData

	// 聚合缓冲区
	buffer  map[countKey]int64
	pending int

	stats *BatchWriterStats

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

/**
 * NewBatchWriter 创建批量写入器
 *
 * Parameters:
 *   - repo: 统计仓储
 *   - config: 配置（使用 DefaultBatchWriterConfig() 获取默认配置）
 *
 * Returns: *BatchWriter - 批量写入器实例
 */
func NewBatchWriter(repo StatsRepository, config BatchWriterConfig) *BatchWriter {
	defaults := DefaultBatchWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &BatchWriter{
		repo:      repo,
		config:    config,
		eventChan: make(chan events.KeyPressEventData, config.EventBuffer),
		buffer:    make(map[countKey]int64),
		stats:     &BatchWriterStats{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

/**
 * Start 启动批量写入器
 */
func (bw *BatchWriter) Start() {
	if !bw.started.CompareAndSwap(false, true) {
		logger.Warn("批量写入器已经启动", zap.Any("config", bw.config))
		return
	}

	bw.wg.Add(2)
	go bw.processEvents()
	go bw.flushLoop()

	logger.Info("批量写入器已启动",
		zap.Int("batch_size", bw.config.BatchSize),
		zap.Duration("flush_interval", bw.config.FlushInterval),
		zap.Int("event_buffer", bw.config.EventBuffer),
	)
}

/**
 * Stop 停止批量写入器
 *
 * 等待处理循环排空通道后把剩余计数写入数据库
 */
func (bw *BatchWriter) Stop() {
	if !bw.started.CompareAndSwap(true, false) {
		return
	}

	logger.Info("正在停止批量写入器...")

	bw.cancel()
	bw.wg.Wait()
	bw.ForceFlush()

	logger.Info("批量写入器已停止",
		zap.Int64("persisted", bw.stats.PersistedEvents.Load()),
		zap.Int64("failed", bw.stats.FailedEvents.Load()),
	)
}

/**
 * Write 写入一次按键
 *
 * 非阻塞；未启动或通道已满时返回 false
 */
func (bw *BatchWriter) Write(data events.KeyPressEventData) bool {
	if !bw.started.Load() {
		return false
	}

	select {
	case bw.eventChan <- data:
		bw.stats.TotalEvents.Add(1)
		return true
	default:
		bw.stats.DroppedEvents.Add(1)
		logger.Warn("批量写入器通道已满，按键丢弃",
			zap.String("key", data.Key),
			zap.String("bucket", data.Bucket),
		)
		return false
	}
}

/**
 * ForceFlush 强制刷新缓冲区
 */
func (bw *BatchWriter) ForceFlush() {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.flush()
}

func (bw *BatchWriter) processEvents() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.ctx.Done():
			bw.drain()
			return
		case data := <-bw.eventChan:
			bw.add(data)
		}
	}
}

// drain 把通道里剩余的按键收进缓冲区
func (bw *BatchWriter) drain() {
	for {
		select {
		case data := <-bw.eventChan:
			bw.add(data)
		default:
			return
		}
	}
}

func (bw *BatchWriter) add(data events.KeyPressEventData) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.buffer[countKey{device: data.Device, bucket: data.Bucket, key: data.Key}]++
	bw.pending++

	if bw.pending >= bw.config.BatchSize {
		bw.flush()
	}
}

func (bw *BatchWriter) flushLoop() {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-ticker.C:
			bw.ForceFlush()
		}
	}
}

/**
 * flush 刷新缓冲区到数据库
 *
 * 必须在持有锁的情况下调用；写入失败时保留缓冲区等待下次重试
 */
func (bw *BatchWriter) flush() {
	if bw.pending == 0 {
		return
	}

	startTime := time.Now()
	counts := make([]KeyCount, 0, len(bw.buffer))
	for k, n := range bw.buffer {
		counts = append(counts, KeyCount{DeviceID: k.device, Bucket: k.bucket, KeyName: k.key, Count: n})
	}

	if err := bw.repo.AddCounts(counts); err != nil {
		bw.stats.FailedEvents.Add(int64(bw.pending))
		logger.Error("批量写入失败",
			zap.Int("keys", len(counts)),
			zap.Int("presses", bw.pending),
			zap.Error(err),
		)
		return
	}

	bw.stats.PersistedEvents.Add(int64(bw.pending))
	logger.Debug("批量刷新完成",
		zap.Int("keys", len(counts)),
		zap.Int("presses", bw.pending),
		zap.Duration("duration", time.Since(startTime)),
	)

	bw.buffer = make(map[countKey]int64)
	bw.pending = 0
}

/**
 * GetBufferSize 获取缓冲中尚未写入的按键次数
 */
func (bw *BatchWriter) GetBufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.pending
}

/**
 * IsStarted 检查批量写入器是否已启动
 */
func (bw *BatchWriter) IsStarted() bool {
	return bw.started.Load()
}

/**
 * GetStats 获取统计信息
 */
func (bw *BatchWriter) GetStats() *BatchWriterStats {
	return bw.stats
}
