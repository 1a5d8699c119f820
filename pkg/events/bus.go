/**
 * Package events 提供事件总线实现
 *
 * EventBus 是发布-订阅模式的核心实现，支持：
 * - 按类型订阅与通配符订阅
 * - 异步（每个订阅者一个 goroutine）或同步投递
 * - 中间件链
 * - 优雅关闭
 */

package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

/**
 * EventHandler 事件处理函数类型
 */
type EventHandler func(event Event) error

/**
 * Middleware 中间件类型
 *
 * 中间件包装事件处理函数，添加日志、恢复、持久化等功能
 */
type Middleware func(EventHandler) EventHandler

/**
 * Subscriber 订阅者信息
 */
type Subscriber struct {
	// ID 订阅者唯一标识
	ID string

	// Handler 事件处理函数
	Handler EventHandler

	// Chan 订阅者专用通道（异步模式下使用）
	Chan chan Event

	// mu 保护 Chan 的发送和关闭
	mu sync.RWMutex

	// closed 通道是否已关闭
	closed bool
}

/**
 * EventBus 事件总线
 */
type EventBus struct {
	// subscribers 订阅者映射：事件类型 -> 订阅者列表
	subscribers map[string][]*Subscriber

	// mutex 保护 subscribers 与 middleware
	mutex sync.RWMutex

	// wg 等待组，用于优雅关闭
	wg sync.WaitGroup

	// stopChan 停止信号通道
	stopChan chan struct{}

	// middleware 中间件链
	middleware []Middleware

	// stopped 原子标志，标记总线是否已停止
	stopped atomic.Bool

	// asyncEnabled 是否启用异步投递
	asyncEnabled bool

	// asyncBufferSize 异步事件缓冲区大小
	asyncBufferSize int
}

/**
 * Option 配置选项类型
 */
type Option func(*EventBus)

/**
 * WithAsyncBufferSize 设置异步缓冲区大小
 */
func WithAsyncBufferSize(size int) Option {
	return func(bus *EventBus) {
		bus.asyncBufferSize = size
	}
}

/**
 * WithAsyncDisabled 禁用异步投递
 *
 * 同步模式下 Publish 在调用方 goroutine 中依次执行处理函数。
 */
func WithAsyncDisabled() Option {
	return func(bus *EventBus) {
		bus.asyncEnabled = false
	}
}

/**
 * NewEventBus 创建新的事件总线
 */
func NewEventBus(opts ...Option) *EventBus {
	bus := &EventBus{
		subscribers:     make(map[string][]*Subscriber),
		stopChan:        make(chan struct{}),
		middleware:      make([]Middleware, 0),
		asyncEnabled:    true,
		asyncBufferSize: 1000,
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

/**
 * Subscribe 订阅事件
 *
 * Parameters:
 *   - eventType: 事件类型，使用 "*" 订阅所有事件
 *   - handler: 事件处理函数
 *
 * Returns:
 *   - string: 订阅者 ID，用于取消订阅
 */
func (bus *EventBus) Subscribe(eventType EventType, handler EventHandler) string {
	subscriber := &Subscriber{
		ID:      "sub-" + uuid.New().String(),
		Handler: handler,
	}
	if bus.asyncEnabled {
		subscriber.Chan = make(chan Event, bus.asyncBufferSize)
	}

	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	key := string(eventType)
	bus.subscribers[key] = append(bus.subscribers[key], subscriber)

	logger.Debug("订阅事件",
		zap.String("event_type", key),
		zap.String("subscriber_id", subscriber.ID),
	)

	if bus.asyncEnabled {
		bus.wg.Add(1)
		go bus.processSubscriber(subscriber)
	}

	return subscriber.ID
}

/**
 * Unsubscribe 取消订阅
 *
 * Returns: bool - 是否找到并移除了订阅者
 */
func (bus *EventBus) Unsubscribe(subscriberID string) bool {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	for eventType, subscribers := range bus.subscribers {
		for i, sub := range subscribers {
			if sub.ID != subscriberID {
				continue
			}

			bus.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)

			sub.mu.Lock()
			if sub.Chan != nil && !sub.closed {
				close(sub.Chan)
			}
			sub.closed = true
			sub.mu.Unlock()

			logger.Debug("取消订阅",
				zap.String("event_type", eventType),
				zap.String("subscriber_id", subscriberID),
			)
			return true
		}
	}

	logger.Debug("订阅者不存在，无法取消订阅", zap.String("subscriber_id", subscriberID))
	return false
}

/**
 * Publish 发布事件
 *
 * 异步模式下只把事件放进订阅者通道，通道满时丢弃并告警，
 * 因此可以在持锁路径上安全调用。
 *
 * Returns:
 *   - error: 总线已停止时返回错误
 */
func (bus *EventBus) Publish(event Event) error {
	if bus.stopped.Load() {
		return fmt.Errorf("event bus is stopped")
	}

	bus.mutex.RLock()
	subscribers := bus.getSubscribers(string(event.Type))
	bus.mutex.RUnlock()

	for _, subscriber := range subscribers {
		if !bus.asyncEnabled {
			bus.dispatch(subscriber, event)
			continue
		}

		subscriber.mu.RLock()
		if !subscriber.closed {
			select {
			case subscriber.Chan <- event:
			default:
				logger.Warn("事件缓冲区满，丢弃事件",
					zap.String("subscriber_id", subscriber.ID),
					zap.String("event_type", string(event.Type)),
				)
			}
		}
		subscriber.mu.RUnlock()
	}

	return nil
}

/**
 * Use 添加中间件
 *
 * 中间件按添加顺序执行（洋葱模型，先添加的在最外层）
 */
func (bus *EventBus) Use(middleware Middleware) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()
	bus.middleware = append(bus.middleware, middleware)
}

/**
 * Stop 优雅停止事件总线
 *
 * Parameters:
 *   - timeout: 等待订阅者退出的最长时间
 *
 * Returns:
 *   - error: 超时返回错误
 */
func (bus *EventBus) Stop(timeout time.Duration) error {
	if !bus.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(bus.stopChan)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for event bus to stop")
	}
}

/**
 * processSubscriber 异步处理订阅者事件
 */
func (bus *EventBus) processSubscriber(subscriber *Subscriber) {
	defer bus.wg.Done()

	for {
		select {
		case event, ok := <-subscriber.Chan:
			if !ok {
				return
			}
			bus.dispatch(subscriber, event)

		case <-bus.stopChan:
			return
		}
	}
}

// dispatch 经中间件链调用订阅者的处理函数
func (bus *EventBus) dispatch(subscriber *Subscriber, event Event) {
	handler := bus.applyMiddleware(subscriber.Handler)
	if err := handler(event); err != nil {
		logger.Error("事件处理错误",
			zap.String("subscriber_id", subscriber.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
}

/**
 * getSubscribers 获取事件类型的所有订阅者（包括通配符订阅者）
 */
func (bus *EventBus) getSubscribers(eventType string) []*Subscriber {
	subscribers := make([]*Subscriber, 0)

	if subs, ok := bus.subscribers[eventType]; ok {
		subscribers = append(subscribers, subs...)
	}
	if wildcardSubs, ok := bus.subscribers["*"]; ok {
		subscribers = append(subscribers, wildcardSubs...)
	}

	return subscribers
}

/**
 * applyMiddleware 应用中间件链
 */
func (bus *EventBus) applyMiddleware(handler EventHandler) EventHandler {
	bus.mutex.RLock()
	defer bus.mutex.RUnlock()

	for i := len(bus.middleware) - 1; i >= 0; i-- {
		handler = bus.middleware[i](handler)
	}
	return handler
}

/**
 * RecoveryMiddleware 恢复中间件
 *
 * 防止事件处理函数中的 panic 导致进程崩溃
 */
func RecoveryMiddleware() Middleware {
	return func(next EventHandler) EventHandler {
		return func(event Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(event)
		}
	}
}

/**
 * LoggingMiddleware 日志中间件
 */
func LoggingMiddleware(log func(event Event)) Middleware {
	return func(next EventHandler) EventHandler {
		return func(event Event) error {
			if log != nil {
				log(event)
			}
			return next(event)
		}
	}
}
