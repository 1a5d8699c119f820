package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval 轮询设备文件的间隔
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultStopTimeout 等待读取协程退出的最长时间
	DefaultStopTimeout = 2 * time.Second
)

// ErrStopTimeout 读取协程未能在超时内退出
var ErrStopTimeout = errors.New("key watcher did not stop in time")

// KeyHandler 接收按下/抬起事件，通常是 KeyManager.KeyAction
type KeyHandler func(eventTime time.Time, code uint16, pressed bool)

// KeyWatcher 设备文件读取器
//
// 一个后台协程按固定间隔轮询所有设备文件，每个文件每轮最多读取一条记录，
// 只把按下和抬起转发给处理函数，自动重复和未知动作被丢弃。
// 读取协程不持有任何锁，处理函数自己负责同步。
type KeyWatcher struct {
	deviceID    int
	sources     []platform.EventSource
	interval    time.Duration
	stopTimeout time.Duration

	mu        sync.RWMutex
	isRunning bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewKeyWatcher 创建读取器
//
// Parameters:
//   - deviceID: 设备编号，只用于日志
//   - sources: 设备文件，Stop 时全部关闭
//   - interval: 轮询间隔，<= 0 时使用 DefaultPollInterval
//   - stopTimeout: Stop 的等待时长，<= 0 时使用 DefaultStopTimeout
func NewKeyWatcher(deviceID int, sources []platform.EventSource, interval, stopTimeout time.Duration) *KeyWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &KeyWatcher{
		deviceID:    deviceID,
		sources:     sources,
		interval:    interval,
		stopTimeout: stopTimeout,
	}
}

// Start 启动读取协程，已在运行时幂等返回
func (w *KeyWatcher) Start(handler KeyHandler) error {
	if handler == nil {
		return fmt.Errorf("key handler is nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		logger.Debug("读取器已在运行", zap.String("component", "watcher"), zap.Int("device", w.deviceID))
		return nil
	}

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.isRunning = true

	go w.loop(handler, w.stopCh, w.doneCh)

	logger.Info("读取器已启动",
		zap.String("component", "watcher"),
		zap.Int("device", w.deviceID),
		zap.Int("sources", len(w.sources)),
	)
	return nil
}

// Stop 通知读取协程退出并等待
//
// 超时只记录错误并返回 ErrStopTimeout，协程退出时仍会关闭设备文件。
func (w *KeyWatcher) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info("读取器已停止", zap.String("component", "watcher"), zap.Int("device", w.deviceID))
		return nil
	case <-timer.C:
		logger.Error("读取器停止超时",
			zap.String("component", "watcher"),
			zap.Int("device", w.deviceID),
			zap.Duration("timeout", w.stopTimeout),
		)
		return ErrStopTimeout
	}
}

// IsRunning 是否正在运行
func (w *KeyWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

// Grab 独占或释放全部设备文件
//
// 独占要么全部成功，要么全部不生效：任一文件失败时释放已经独占的文件，
// 调用方看到错误后可以认为没有文件被独占。释放总是尝试所有文件。
func (w *KeyWatcher) Grab(grab bool) error {
	var errs []error
	held := make([]platform.EventSource, 0, len(w.sources))
	for _, src := range w.sources {
		if err := src.Grab(grab); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Path(), err))
			continue
		}
		held = append(held, src)
	}

	if grab && len(errs) > 0 {
		for _, src := range held {
			if err := src.Grab(false); err != nil {
				errs = append(errs, fmt.Errorf("%s: release after partial grab: %w", src.Path(), err))
			}
		}
		logger.Warn("部分设备文件独占失败，已回滚",
			zap.String("component", "watcher"),
			zap.Int("device", w.deviceID),
			zap.Int("rolled_back", len(held)),
		)
	}
	return errors.Join(errs...)
}

func (w *KeyWatcher) loop(handler KeyHandler, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer w.closeSources()

	failed := make([]bool, len(w.sources))
	buf := make([]byte, platform.RecordSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		for i, src := range w.sources {
			if failed[i] {
				continue
			}

			ok, err := src.ReadRecord(buf)
			if err != nil {
				failed[i] = true
				logger.Error("读取设备文件失败，不再轮询该文件",
					zap.String("component", "watcher"),
					zap.String("path", src.Path()),
					zap.Error(err),
				)
				continue
			}
			if !ok {
				continue
			}

			event, ok := DecodeRecord(buf)
			if !ok {
				continue
			}
			switch event.Action {
			case ActionPress:
				handler(event.Time, event.Code, true)
			case ActionRelease:
				handler(event.Time, event.Code, false)
			}
		}

		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (w *KeyWatcher) closeSources() {
	for _, src := range w.sources {
		if err := src.Close(); err != nil {
			logger.Warn("关闭设备文件失败",
				zap.String("component", "watcher"),
				zap.String("path", src.Path()),
				zap.Error(err),
			)
		}
	}
}
