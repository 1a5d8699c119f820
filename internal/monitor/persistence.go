/**
 * Package monitor 监控组件
 *
 * 按键统计持久化：订阅 keypress 事件并交给批量写入器
 */

package monitor

import (
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/internal/infrastructure/storage"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

/**
 * PersistenceConfig 持久化配置
 */
type PersistenceConfig struct {
	// RetryOnError 写入失败（通道已满）时是否重试
	RetryOnError bool

	// MaxRetries 最大重试次数
	MaxRetries int

	// RetryBackoff 首次重试的等待时间，之后指数增长
	RetryBackoff time.Duration
}

/**
 * DefaultPersistenceConfig 默认持久化配置
 */
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		RetryOnError: true,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

/**
 * StatsPersister 按键统计持久化订阅者
 *
 * 每个 keypress 事件只被处理一次，然后写入 BatchWriter 按 (设备, 小时桶, 按键) 聚合。
 */
type StatsPersister struct {
	batchWriter *storage.BatchWriter
	config      PersistenceConfig
	bus         *events.EventBus

	mu           sync.Mutex
	subscriberID string
	retries      sync.WaitGroup
}

/**
 * NewStatsPersister 创建持久化订阅者
 *
 * Parameters:
 *   - batchWriter: 批量写入器
 *   - config: 持久化配置
 */
func NewStatsPersister(batchWriter *storage.BatchWriter, config PersistenceConfig) *StatsPersister {
	return &StatsPersister{
		batchWriter: batchWriter,
		config:      config,
	}
}

/**
 * Attach 订阅事件总线上的 keypress 事件
 */
func (sp *StatsPersister) Attach(bus *events.EventBus) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.subscriberID != "" {
		return
	}
	sp.bus = bus
	sp.subscriberID = bus.Subscribe(events.EventTypeKeyPress, sp.Handle)

	logger.Info("按键统计持久化已订阅",
		zap.String("component", "persistence"),
		zap.Bool("retry", sp.config.RetryOnError))
}

/**
 * Handle 处理一个 keypress 事件
 */
func (sp *StatsPersister) Handle(event events.Event) error {
	data, ok := event.AsKeyPress()
	if !ok {
		return nil
	}

	if sp.persist(data) {
		return nil
	}

	if sp.config.RetryOnError {
		logger.Warn("按键统计写入失败，准备重试",
			zap.String("component", "persistence"),
			zap.String("event_id", event.ID),
			zap.String("key", data.Key))
		sp.retries.Add(1)
		go sp.retryPersist(data)
	}
	return nil
}

func (sp *StatsPersister) persist(data events.KeyPressEventData) bool {
	if sp.batchWriter == nil {
		logger.Error("批量写入器未初始化", zap.String("component", "persistence"))
		return false
	}
	return sp.batchWriter.Write(data)
}

func (sp *StatsPersister) retryPersist(data events.KeyPressEventData) {
	defer sp.retries.Done()

	maxRetries := sp.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := sp.config.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for i := 0; i < maxRetries; i++ {
		// 指数退避
		time.Sleep(backoff << uint(i))

		if sp.persist(data) {
			logger.Debug("按键统计重试写入成功",
				zap.String("component", "persistence"),
				zap.Int("attempt", i+1))
			return
		}
	}

	logger.Error("按键统计重试写入失败",
		zap.String("component", "persistence"),
		zap.String("key", data.Key),
		zap.Int("max_retries", maxRetries))
}

/**
 * Stop 取消订阅，等待重试结束后停止批量写入器
 *
 * 批量写入器停止时会把缓冲区中的计数全部写入数据库。
 */
func (sp *StatsPersister) Stop() error {
	sp.mu.Lock()
	if sp.bus != nil && sp.subscriberID != "" {
		sp.bus.Unsubscribe(sp.subscriberID)
		sp.subscriberID = ""
	}
	sp.mu.Unlock()

	sp.retries.Wait()

	if sp.batchWriter != nil {
		logger.Info("正在停止按键统计持久化...", zap.String("component", "persistence"))
		sp.batchWriter.Stop()
	}
	return nil
}

/**
 * GetStats 获取持久化统计信息
 *
 * Returns: map[string]interface{} - 统计信息
 */
func (sp *StatsPersister) GetStats() map[string]interface{} {
	if sp.batchWriter == nil {
		return nil
	}

	stats := sp.batchWriter.GetStats()
	return map[string]interface{}{
		"total_events":     stats.TotalEvents.Load(),
		"persisted_events": stats.PersistedEvents.Load(),
		"failed_events":    stats.FailedEvents.Load(),
		"dropped_events":   stats.DroppedEvents.Load(),
		"buffered_keys":    sp.batchWriter.GetBufferSize(),
	}
}
