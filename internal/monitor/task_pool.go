package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// reapEvery KeyAction 每调用多少次清理一次已结束的任务
const reapEvery = 20

// Job 后台任务，只有 JobMacro 和 JobMedia 两种
type Job interface {
	Kind() string
	isJob()
}

// JobMacro 回放一个宏
type JobMacro struct {
	BindKey string
	Steps   models.Macro
}

func (JobMacro) Kind() string { return "macro" }
func (JobMacro) isJob()       {}

// JobMedia 执行一个多媒体动作
type JobMedia struct {
	Action platform.MediaAction
}

func (JobMedia) Kind() string { return "media" }
func (JobMedia) isJob()       {}

// Executor 任务执行器
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// TaskHandle 已提交任务的句柄
type TaskHandle struct {
	ID        string
	Kind      string
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done 任务结束时关闭
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Finished 非阻塞地检查任务是否结束
func (h *TaskHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err 任务的返回错误，只在 Finished 之后有意义
func (h *TaskHandle) Err() error {
	if !h.Finished() {
		return nil
	}
	return h.err
}

// TaskPool 即发即弃的任务池
//
// 提交即启动一个协程执行，句柄登记在池中直到被 Reap 观察到已结束。
type TaskPool struct {
	executor Executor

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[string]*TaskHandle
}

// NewTaskPool 创建任务池
func NewTaskPool(executor Executor) *TaskPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskPool{
		executor: executor,
		ctx:      ctx,
		cancel:   cancel,
		handles:  make(map[string]*TaskHandle),
	}
}

// Submit 启动任务并登记句柄
func (p *TaskPool) Submit(job Job) *TaskHandle {
	handle := &TaskHandle{
		ID:        uuid.New().String(),
		Kind:      job.Kind(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	p.handles[handle.ID] = handle
	p.mu.Unlock()

	go p.run(handle, job)
	return handle
}

func (p *TaskPool) run(handle *TaskHandle, job Job) {
	defer close(handle.done)
	defer func() {
		if r := recover(); r != nil {
			handle.err = fmt.Errorf("task panic: %v", r)
			logger.Error("后台任务崩溃",
				zap.String("component", "task_pool"),
				zap.String("task", handle.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := p.executor.Execute(p.ctx, job); err != nil {
		handle.err = err
		logger.Warn("后台任务执行失败",
			zap.String("component", "task_pool"),
			zap.String("task", handle.ID),
			zap.String("kind", handle.Kind),
			zap.Error(err),
		)
	}
}

// Reap 移除已结束的任务，不等待未结束的任务
//
// Returns: int - 移除的任务数
func (p *TaskPool) Reap() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed, failed := 0, 0
	for id, handle := range p.handles {
		if !handle.Finished() {
			continue
		}
		if handle.Err() != nil {
			failed++
		}
		delete(p.handles, id)
		removed++
	}

	if removed > 0 {
		logger.Debug("清理已结束的任务",
			zap.String("component", "task_pool"),
			zap.Int("removed", removed),
			zap.Int("failed", failed),
			zap.Int("remaining", len(p.handles)),
		)
	}
	return removed
}

// Len 池中登记的任务数（含已结束但未清理的）
func (p *TaskPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// Shutdown 取消所有任务并在超时内等待它们结束
func (p *TaskPool) Shutdown(timeout time.Duration) error {
	p.cancel()

	p.mu.Lock()
	pending := make([]*TaskHandle, 0, len(p.handles))
	for _, handle := range p.handles {
		pending = append(pending, handle)
	}
	p.mu.Unlock()

	deadline := time.After(timeout)
	for _, handle := range pending {
		select {
		case <-handle.done:
		case <-deadline:
			return fmt.Errorf("等待后台任务结束超时 (%s)", timeout)
		}
	}

	p.Reap()
	return nil
}
