package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"github.com/holoplot/go-evdev"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeCollab 记录驱动控制面调用
type fakeCollab struct {
	mu       sync.Mutex
	calls    []string
	gameMode bool
	err      error
}

func (c *fakeCollab) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return c.err
}

func (c *fakeCollab) SetMacroMode(enable bool) error {
	return c.record(fmt.Sprintf("SetMacroMode(%v)", enable))
}

func (c *fakeCollab) SetMacroEffect(effect int) error {
	return c.record(fmt.Sprintf("SetMacroEffect(%d)", effect))
}

func (c *fakeCollab) GameMode() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameMode, nil
}

func (c *fakeCollab) SetGameMode(enable bool) error {
	c.mu.Lock()
	c.gameMode = enable
	c.mu.Unlock()
	return c.record(fmt.Sprintf("SetGameMode(%v)", enable))
}

func (c *fakeCollab) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// fakeGrabber 记录独占调用
type fakeGrabber struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (g *fakeGrabber) Grab(grab bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, grab)
	return g.err
}

func (g *fakeGrabber) Calls() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]bool, len(g.calls))
	copy(out, g.calls)
	return out
}

// fakeExecutor 把收到的任务送入通道
type fakeExecutor struct {
	jobs  chan Job
	block chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{jobs: make(chan Job, 64)}
}

func (e *fakeExecutor) Execute(ctx context.Context, job Job) error {
	e.jobs <- job
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// nextJob 等待下一个任务
func (e *fakeExecutor) nextJob(t *testing.T) Job {
	t.Helper()
	select {
	case job := <-e.jobs:
		return job
	case <-time.After(time.Second):
		t.Fatal("等待任务超时")
		return nil
	}
}

// noJob 确认没有任务被提交
func (e *fakeExecutor) noJob(t *testing.T) {
	t.Helper()
	select {
	case job := <-e.jobs:
		t.Fatalf("不应提交任务，实际收到 %#v", job)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testRig 一套完整的 KeyManager 测试夹具
type testRig struct {
	km       *KeyManager
	collab   *fakeCollab
	grabber  *fakeGrabber
	executor *fakeExecutor
	pool     *TaskPool
	clock    *fakeClock
	base     time.Time
}

func newTestRig(t *testing.T, opts ...Option) *testRig {
	t.Helper()

	rig := &testRig{
		collab:   &fakeCollab{},
		grabber:  &fakeGrabber{},
		executor: newFakeExecutor(),
		base:     time.Date(2026, 10, 17, 9, 30, 0, 0, time.Local),
	}
	rig.clock = &fakeClock{now: rig.base}
	rig.pool = NewTaskPool(rig.executor)
	t.Cleanup(func() { _ = rig.pool.Shutdown(time.Second) })

	all := append([]Option{
		WithClock(rig.clock.Now),
		WithGrabber(rig.grabber),
	}, opts...)
	rig.km = NewKeyManager(0, DefaultKeymap(), rig.collab, rig.pool, all...)
	return rig
}

// press 在 base+offset 时刻按下按键
func (r *testRig) press(code evdev.EvCode, offset time.Duration) {
	r.km.KeyAction(r.base.Add(offset), uint16(code), true)
}

// release 在 base+offset 时刻抬起按键
func (r *testRig) release(code evdev.EvCode, offset time.Duration) {
	r.km.KeyAction(r.base.Add(offset), uint16(code), false)
}

// tap 按下并抬起
func (r *testRig) tap(code evdev.EvCode, offset time.Duration) {
	r.press(code, offset)
	r.release(code, offset)
}

// fnCombo FN + 按键
func (r *testRig) fnCombo(code evdev.EvCode, offset time.Duration) {
	r.press(evdev.KEY_FN, offset)
	r.tap(code, offset)
	r.release(evdev.KEY_FN, offset)
}

// observeLogs 把全局 logger 换成观察者，测试结束后恢复
func observeLogs(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	restore := logger.ReplaceLogger(zap.New(core))
	t.Cleanup(restore)
	return logs
}
