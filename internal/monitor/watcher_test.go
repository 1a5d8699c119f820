package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource 内存中的设备文件
type fakeSource struct {
	path string

	mu      sync.Mutex
	records [][]byte
	readErr error
	grabErr error
	grabs   []bool
	closed  int
}

func (s *fakeSource) push(records ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

func (s *fakeSource) ReadRecord(buf []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return false, s.readErr
	}
	if len(s.records) == 0 {
		return false, nil
	}
	copy(buf, s.records[0])
	s.records = s.records[1:]
	return true, nil
}

func (s *fakeSource) Grab(grab bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grabs = append(s.grabs, grab)
	return s.grabErr
}

func (s *fakeSource) Path() string { return s.path }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeSourceList []*fakeSource

func (l fakeSourceList) sources() []platform.EventSource {
	out := make([]platform.EventSource, len(l))
	for i, src := range l {
		out[i] = src
	}
	return out
}

// keyCall 处理函数收到的一次调用
type keyCall struct {
	code    uint16
	pressed bool
}

// callRecorder 线程安全地记录调用
type callRecorder struct {
	mu    sync.Mutex
	calls []keyCall
}

func (r *callRecorder) handle(eventTime time.Time, code uint16, pressed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, keyCall{code: code, pressed: pressed})
}

func (r *callRecorder) Calls() []keyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]keyCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// TestKeyWatcher_ForwardsPressAndRelease 测试只转发按下和抬起
func TestKeyWatcher_ForwardsPressAndRelease(t *testing.T) {
	evKey := uint16(evdev.EV_KEY)
	keyA := uint16(evdev.KEY_A)

	src := &fakeSource{path: "/dev/input/by-id/kbd-event-kbd"}
	src.push(
		encodeRecord(1, 0, uint16(evdev.EV_MSC), 4, 30),
		encodeRecord(1, 0, evKey, keyA, 1),
		encodeRecord(1, 0, 0, 0, 0),
		encodeRecord(1, 100, evKey, keyA, 2),
		encodeRecord(1, 200, evKey, keyA, 0),
		encodeRecord(1, 300, evKey, keyA, 9),
	)

	recorder := &callRecorder{}
	w := NewKeyWatcher(0, fakeSourceList{src}.sources(), time.Millisecond, time.Second)
	require.NoError(t, w.Start(recorder.handle))
	assert.True(t, w.IsRunning())

	require.Eventually(t, func() bool {
		return len(recorder.Calls()) == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.Equal(t, []keyCall{{code: keyA, pressed: true}, {code: keyA, pressed: false}}, recorder.Calls())
	assert.Equal(t, 1, src.Closed(), "停止时关闭设备文件")

	// 重复停止无副作用
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, src.Closed())
}

// TestKeyWatcher_FailingSource 测试读取失败的文件只记录一次并被跳过
func TestKeyWatcher_FailingSource(t *testing.T) {
	logs := observeLogs(t, zap.ErrorLevel)

	bad := &fakeSource{path: "bad", readErr: errors.New("device unplugged")}
	good := &fakeSource{path: "good"}
	good.push(encodeRecord(1, 0, uint16(evdev.EV_KEY), uint16(evdev.KEY_B), 1))

	recorder := &callRecorder{}
	w := NewKeyWatcher(0, fakeSourceList{bad, good}.sources(), time.Millisecond, time.Second)
	require.NoError(t, w.Start(recorder.handle))

	require.Eventually(t, func() bool {
		return len(recorder.Calls()) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, w.Stop())

	assert.Equal(t, 1, logs.FilterMessage("读取设备文件失败，不再轮询该文件").Len())
	assert.Equal(t, 1, bad.Closed())
	assert.Equal(t, 1, good.Closed())
}

// TestKeyWatcher_StopTimeout 测试处理函数阻塞时停止超时
func TestKeyWatcher_StopTimeout(t *testing.T) {
	src := &fakeSource{path: "slow"}
	src.push(encodeRecord(1, 0, uint16(evdev.EV_KEY), uint16(evdev.KEY_A), 1))

	entered := make(chan struct{})
	release := make(chan struct{})
	w := NewKeyWatcher(0, fakeSourceList{src}.sources(), time.Millisecond, 20*time.Millisecond)
	require.NoError(t, w.Start(func(time.Time, uint16, bool) {
		close(entered)
		<-release
	}))

	<-entered
	assert.ErrorIs(t, w.Stop(), ErrStopTimeout)

	close(release)
	require.Eventually(t, func() bool { return src.Closed() == 1 }, time.Second, time.Millisecond)
}

// TestKeyWatcher_Grab 测试独占所有设备文件
func TestKeyWatcher_Grab(t *testing.T) {
	a := &fakeSource{path: "a"}
	b := &fakeSource{path: "b", grabErr: errors.New("EBUSY")}
	w := NewKeyWatcher(0, fakeSourceList{a, b}.sources(), 0, 0)

	err := w.Grab(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: EBUSY")
	assert.Equal(t, []bool{true, false}, a.grabs, "部分失败时回滚已独占的文件")
	assert.Equal(t, []bool{true}, b.grabs)

	b.grabErr = nil
	require.NoError(t, w.Grab(true))
	assert.Equal(t, []bool{true, false, true}, a.grabs)
	assert.Equal(t, []bool{true, true}, b.grabs)

	assert.NoError(t, w.Grab(false))
	assert.Equal(t, []bool{true, false, true, false}, a.grabs)
	assert.Equal(t, []bool{true, true, false}, b.grabs)
}

// TestKeyManager_PartialGrabReleased 测试经由读取器独占时，部分失败不会遗留被独占的设备
func TestKeyManager_PartialGrabReleased(t *testing.T) {
	a := &fakeSource{path: "a"}
	b := &fakeSource{path: "b", grabErr: errors.New("EBUSY")}
	w := NewKeyWatcher(0, fakeSourceList{a, b}.sources(), 0, 0)
	km := NewKeyManager(0, DefaultKeymap(), nil, nil, WithGrabber(w))

	km.KeyAction(time.Now(), uint16(evdev.KEY_FN), true)
	assert.False(t, km.Grabbed())
	km.KeyAction(time.Now(), uint16(evdev.KEY_FN), false)
	km.ReleaseGrab()

	assert.Equal(t, []bool{true, false}, a.grabs, "没有文件保持独占")
	assert.Equal(t, []bool{true}, b.grabs)

	// 设备恢复后下次按下 FN 重新独占，抬起时全部释放
	b.grabErr = nil
	km.KeyAction(time.Now(), uint16(evdev.KEY_FN), true)
	assert.True(t, km.Grabbed())
	km.KeyAction(time.Now(), uint16(evdev.KEY_FN), false)
	assert.False(t, km.Grabbed())
	assert.Equal(t, []bool{true, false, true, false}, a.grabs)
	assert.Equal(t, []bool{true, true, false}, b.grabs)
}

// TestKeyWatcher_Defaults 测试默认参数
func TestKeyWatcher_Defaults(t *testing.T) {
	w := NewKeyWatcher(3, nil, 0, -1)
	assert.Equal(t, DefaultPollInterval, w.interval)
	assert.Equal(t, DefaultStopTimeout, w.stopTimeout)
	assert.Error(t, w.Start(nil))
}
