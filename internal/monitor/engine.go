package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// Monitor 可启停的监控组件
type Monitor interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// DefaultTaskShutdownTimeout 关闭时等待宏回放和多媒体任务的时长
const DefaultTaskShutdownTimeout = 3 * time.Second

// Engine 单个设备的按键监控引擎
//
// 负责把读取器、按键管理器和任务池串起来，统一管理它们的生命周期：
//   - Start 订阅 effect 通知，再启动读取器
//   - Stop 取消订阅、释放设备独占、停止读取器、等待后台任务
//
// 启停时向事件总线发布状态事件。
type Engine struct {
	// watcher 设备文件读取器
	watcher *KeyWatcher

	// manager 按键管理器
	manager *KeyManager

	// pool 宏和多媒体任务池
	pool *TaskPool

	// eventBus 事件总线，可以为 nil
	eventBus *events.EventBus

	// taskTimeout 关闭时等待任务的时长
	taskTimeout time.Duration

	subscriberID string

	// isRunning 引擎运行状态标志
	isRunning bool

	// mu 读写锁，保护并发访问
	mu sync.RWMutex
}

// NewEngine 创建监控引擎
//
// Parameters:
//   - watcher: 设备文件读取器
//   - manager: 按键管理器
//   - pool: 任务池，可以为 nil
//   - eventBus: 事件总线，可以为 nil
func NewEngine(watcher *KeyWatcher, manager *KeyManager, pool *TaskPool, eventBus *events.EventBus) *Engine {
	return &Engine{
		watcher:     watcher,
		manager:     manager,
		pool:        pool,
		eventBus:    eventBus,
		taskTimeout: DefaultTaskShutdownTimeout,
	}
}

// Start 启动监控引擎
//
// Returns: error - 引擎已运行或读取器启动失败
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("monitor engine already running")
	}

	if e.eventBus != nil {
		e.subscriberID = e.eventBus.Subscribe(events.EventTypeEffect, e.manager.Notify)
	}

	if err := e.watcher.Start(e.manager.KeyAction); err != nil {
		e.unsubscribe()
		return fmt.Errorf("failed to start key watcher: %w", err)
	}

	e.isRunning = true
	logger.Info("监控引擎已启动",
		zap.String("component", "engine"),
		zap.Int("device", e.manager.DeviceID()),
	)
	e.publishStatus("started", "")
	return nil
}

// Stop 停止监控引擎
//
// 读取器停止超时或任务等待超时只记录日志，引擎仍会进入停止状态。
//
// Returns: error - 引擎未运行
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return fmt.Errorf("monitor engine not running")
	}

	e.unsubscribe()
	e.manager.ReleaseGrab()

	detail := ""
	if err := e.watcher.Stop(); err != nil {
		detail = err.Error()
	}

	if e.pool != nil {
		if err := e.pool.Shutdown(e.taskTimeout); err != nil {
			logger.Warn("后台任务未能全部结束",
				zap.String("component", "engine"),
				zap.Error(err),
			)
		}
	}

	e.isRunning = false
	logger.Info("监控引擎已停止",
		zap.String("component", "engine"),
		zap.Int("device", e.manager.DeviceID()),
	)
	e.publishStatus("stopped", detail)
	return nil
}

// IsRunning 检查运行状态
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// KeyManager 引擎管理的按键管理器
func (e *Engine) KeyManager() *KeyManager {
	return e.manager
}

func (e *Engine) unsubscribe() {
	if e.eventBus != nil && e.subscriberID != "" {
		e.eventBus.Unsubscribe(e.subscriberID)
		e.subscriberID = ""
	}
}

func (e *Engine) publishStatus(status, detail string) {
	if e.eventBus == nil {
		return
	}
	event := events.NewEvent(events.EventTypeStatus, events.StatusEventData{
		Status: status,
		Device: e.manager.DeviceID(),
		Detail: detail,
	})
	if err := e.eventBus.Publish(*event); err != nil {
		logger.Debug("发布状态事件失败", zap.String("component", "engine"), zap.Error(err))
	}
}
