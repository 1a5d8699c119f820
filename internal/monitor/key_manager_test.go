package monitor

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestKeyManager_GrabOnce 测试 FN 独占只触发一次
//
// 测试场景：
//  1. FN 按下两次（含自动重复之外的重复按下），只独占一次
//  2. FN 抬起释放独占
//  3. 再次抬起不重复释放
func TestKeyManager_GrabOnce(t *testing.T) {
	rig := newTestRig(t)

	rig.press(evdev.KEY_FN, 0)
	rig.press(evdev.KEY_FN, 10*time.Millisecond)
	assert.True(t, rig.km.Grabbed())
	assert.Equal(t, []bool{true}, rig.grabber.Calls())

	rig.release(evdev.KEY_FN, 20*time.Millisecond)
	rig.release(evdev.KEY_FN, 30*time.Millisecond)
	assert.False(t, rig.km.Grabbed())
	assert.Equal(t, []bool{true, false}, rig.grabber.Calls())
}

// TestKeyManager_GrabFailure 测试独占失败时不改变状态，下次按下重试
func TestKeyManager_GrabFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.grabber.err = errors.New("device busy")

	rig.press(evdev.KEY_FN, 0)
	assert.False(t, rig.km.Grabbed())

	rig.grabber.err = nil
	rig.press(evdev.KEY_FN, time.Millisecond)
	assert.True(t, rig.km.Grabbed())
	assert.Equal(t, []bool{true, true}, rig.grabber.Calls())
}

// TestKeyManager_ReleaseGrab 测试关闭时释放独占
func TestKeyManager_ReleaseGrab(t *testing.T) {
	rig := newTestRig(t)

	rig.km.ReleaseGrab()
	assert.Empty(t, rig.grabber.Calls(), "未独占时不应调用")

	rig.press(evdev.KEY_FN, 0)
	rig.km.ReleaseGrab()
	assert.False(t, rig.km.Grabbed())
	assert.Equal(t, []bool{true, false}, rig.grabber.Calls())
}

// TestKeyManager_Stats 测试按键统计
//
// 每次按下计数一次，抬起不计数；按事件时间分小时桶。
func TestKeyManager_Stats(t *testing.T) {
	rig := newTestRig(t)

	rig.tap(evdev.KEY_A, 0)
	rig.tap(evdev.KEY_A, time.Second)
	rig.tap(evdev.KEY_B, 2*time.Second)
	rig.tap(evdev.KEY_A, time.Hour)

	stats := rig.km.Stats()
	require.Len(t, stats, 2)

	first := stats["2026101709"]
	assert.Equal(t, uint64(2), first["A"])
	assert.Equal(t, uint64(1), first["B"])
	assert.Equal(t, uint64(0), first["C"], "新桶中所有按键从 0 开始")

	assert.Equal(t, uint64(1), stats["2026101710"]["A"])
}

// TestKeyManager_UnknownCode 测试未知键码被忽略
func TestKeyManager_UnknownCode(t *testing.T) {
	rig := newTestRig(t)
	logs := observeLogs(t, zap.WarnLevel)

	assert.NotPanics(t, func() {
		rig.km.KeyAction(rig.base, 0xfff, true)
		rig.km.KeyAction(rig.base, 0xfff, false)
	})
	assert.Empty(t, rig.km.Stats())
	assert.Equal(t, 2, logs.FilterMessage("无法把键码转换为按键名").Len())
}

// TestKeyManager_KeyPressEvents 测试开启统计时发布 keypress 事件
func TestKeyManager_KeyPressEvents(t *testing.T) {
	tests := []struct {
		name        string
		recordStats bool
		want        int
	}{
		{name: "开启统计", recordStats: true, want: 2},
		{name: "关闭统计", recordStats: false, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := events.NewEventBus(events.WithAsyncDisabled())
			var mu sync.Mutex
			var got []events.KeyPressEventData
			bus.Subscribe(events.EventTypeKeyPress, func(event events.Event) error {
				data, ok := event.AsKeyPress()
				require.True(t, ok)
				mu.Lock()
				got = append(got, data)
				mu.Unlock()
				return nil
			})

			rig := newTestRig(t, WithEventBus(bus), WithRecordStats(tt.recordStats))
			rig.tap(evdev.KEY_A, 0)
			rig.tap(evdev.KEY_S, time.Second)

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, got, tt.want)
			if tt.want > 0 {
				assert.Equal(t, "A", got[0].Key)
				assert.Equal(t, "2026101709", got[0].Bucket)
				assert.Equal(t, "S", got[1].Key)
			}
			// 内存统计不受开关影响
			assert.Equal(t, uint64(1), rig.km.Stats()["2026101709"]["A"])
		})
	}
}

// TestKeyManager_RecordZeroStepMacro 测试只设置绑定键的录制得到空宏
func TestKeyManager_RecordZeroStepMacro(t *testing.T) {
	rig := newTestRig(t)

	rig.fnCombo(evdev.KEY_F9, 0)
	assert.True(t, rig.km.Recording())

	rig.tap(evdev.KEY_M, time.Second)
	rig.fnCombo(evdev.KEY_F9, 2*time.Second)
	assert.False(t, rig.km.Recording())

	table := rig.km.MacroTable()
	require.Contains(t, table, "M")
	assert.Empty(t, table["M"])

	assert.Equal(t, []string{
		"SetMacroEffect(1)",
		"SetMacroMode(true)",
		"SetMacroEffect(0)",
		"SetMacroMode(false)",
	}, rig.collab.Calls())
}

// TestKeyManager_RecordMacroDelays 测试录制延迟只保留微秒部分
func TestKeyManager_RecordMacroDelays(t *testing.T) {
	rig := newTestRig(t)

	rig.fnCombo(evdev.KEY_F9, 0)
	rig.tap(evdev.KEY_A, 500*time.Millisecond) // 绑定键
	rig.press(evdev.KEY_M, time.Second)
	rig.release(evdev.KEY_M, 2*time.Second+1500*time.Microsecond)
	rig.fnCombo(evdev.KEY_F9, 3*time.Second)

	want := models.Macro{
		{KeyName: "M", Delay: 0, Direction: models.DirectionDown},
		{KeyName: "M", Delay: 1500, Direction: models.DirectionUp},
	}
	assert.Equal(t, want, rig.km.MacroTable()["A"])
}

// TestKeyManager_RecordRecursion 测试录制中再次按下绑定键
func TestKeyManager_RecordRecursion(t *testing.T) {
	rig := newTestRig(t)
	logs := observeLogs(t, zap.WarnLevel)

	rig.fnCombo(evdev.KEY_F9, 0)
	rig.tap(evdev.KEY_M, time.Second)
	rig.tap(evdev.KEY_M, 2*time.Second)
	rig.tap(evdev.KEY_B, 3*time.Second)
	rig.fnCombo(evdev.KEY_F9, 4*time.Second)

	assert.Equal(t, 1, logs.FilterMessage("跳过宏绑定，绑定键录入自身会导致递归").Len())

	macro := rig.km.MacroTable()["M"]
	assert.False(t, macro.Contains("M"), "绑定键不能出现在自己的宏中")
	assert.Equal(t, models.Macro{
		{KeyName: "B", Delay: 0, Direction: models.DirectionDown},
		{KeyName: "B", Delay: 0, Direction: models.DirectionUp},
	}, macro)
}

// TestKeyManager_RecordWithoutBindKey 测试没有绑定键时结束录制
func TestKeyManager_RecordWithoutBindKey(t *testing.T) {
	rig := newTestRig(t)
	logs := observeLogs(t, zap.WarnLevel)

	rig.fnCombo(evdev.KEY_F9, 0)
	rig.fnCombo(evdev.KEY_F9, time.Second)

	assert.False(t, rig.km.Recording())
	assert.Empty(t, rig.km.MacroTable())
	assert.Equal(t, 1, logs.FilterMessage("录制结束但没有绑定键，丢弃录制内容").Len())
}

// TestKeyManager_MacroSavedHook 测试录制完成回调和 macro 事件
func TestKeyManager_MacroSavedHook(t *testing.T) {
	bus := events.NewEventBus(events.WithAsyncDisabled())
	var published []events.MacroEventData
	bus.Subscribe(events.EventTypeMacro, func(event events.Event) error {
		published = append(published, event.Data.(events.MacroEventData))
		return nil
	})

	var savedKey string
	var savedMacro models.Macro
	var rig *testRig
	rig = newTestRig(t, WithEventBus(bus), WithMacroSavedHook(func(bindKey string, macro models.Macro) {
		// 回调在锁外执行，可以回调 KeyManager
		assert.False(t, rig.km.Recording())
		savedKey, savedMacro = bindKey, macro
	}))

	rig.fnCombo(evdev.KEY_F9, 0)
	rig.tap(evdev.KEY_M, time.Second)
	rig.tap(evdev.KEY_H, 2*time.Second)
	rig.fnCombo(evdev.KEY_F9, 3*time.Second)

	assert.Equal(t, "M", savedKey)
	assert.Len(t, savedMacro, 2)
	require.Len(t, published, 1)
	assert.Equal(t, events.MacroEventData{Device: 0, BindKey: "M", Action: "recorded", Steps: 2}, published[0])
}

// TestKeyManager_MacroPlayback 测试按下绑定键回放宏
func TestKeyManager_MacroPlayback(t *testing.T) {
	rig := newTestRig(t)
	macro := models.Macro{
		{KeyName: "H", Direction: models.DirectionDown},
		{KeyName: "H", Delay: 30000, Direction: models.DirectionUp},
	}
	require.NoError(t, rig.km.SetMacro("M1", macro))

	rig.tap(evdev.KEY_MACRO1, 0)

	job := rig.executor.nextJob(t)
	require.IsType(t, JobMacro{}, job)
	assert.Equal(t, "M1", job.(JobMacro).BindKey)
	assert.Equal(t, macro, job.(JobMacro).Steps)

	// 没有宏的按键不提交任务
	rig.tap(evdev.KEY_Q, time.Second)
	rig.executor.noJob(t)
}

// TestKeyManager_MediaKeys 测试 FN + 多媒体键
func TestKeyManager_MediaKeys(t *testing.T) {
	tests := []struct {
		name string
		code evdev.EvCode
		want platform.MediaAction
	}{
		{name: "F1 静音", code: evdev.KEY_F1, want: platform.MediaVolumeMute},
		{name: "F2 音量减", code: evdev.KEY_F2, want: platform.MediaVolumeDown},
		{name: "F3 音量加", code: evdev.KEY_F3, want: platform.MediaVolumeUp},
		{name: "F5 上一首", code: evdev.KEY_F5, want: platform.MediaPrevious},
		{name: "F6 播放暂停", code: evdev.KEY_F6, want: platform.MediaPlayPause},
		{name: "F7 下一首", code: evdev.KEY_F7, want: platform.MediaNext},
		{name: "PAUSE 睡眠", code: evdev.KEY_PAUSE, want: platform.MediaSleep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.fnCombo(tt.code, 0)

			job := rig.executor.nextJob(t)
			assert.Equal(t, JobMedia{Action: tt.want}, job)
		})
	}

	t.Run("不按 FN 时不触发", func(t *testing.T) {
		rig := newTestRig(t)
		rig.tap(evdev.KEY_F1, 0)
		rig.executor.noJob(t)
	})
}

// TestKeyManager_GameModeToggle 测试 FN+F10 切换游戏模式
func TestKeyManager_GameModeToggle(t *testing.T) {
	rig := newTestRig(t)

	rig.fnCombo(evdev.KEY_F10, 0)
	rig.fnCombo(evdev.KEY_F10, time.Second)

	assert.Equal(t, []string{"SetGameMode(true)", "SetGameMode(false)"}, rig.collab.Calls())
}

// TestKeyManager_CollabErrors 测试驱动控制面出错不影响状态机
func TestKeyManager_CollabErrors(t *testing.T) {
	rig := newTestRig(t)
	rig.collab.err = errors.New("no such attribute")

	rig.fnCombo(evdev.KEY_F9, 0)
	assert.True(t, rig.km.Recording())
	rig.tap(evdev.KEY_M, time.Second)
	rig.fnCombo(evdev.KEY_F9, 2*time.Second)
	assert.False(t, rig.km.Recording())
	assert.Contains(t, rig.km.MacroTable(), "M")
}

// TestKeyManager_NilCollaborator 测试没有驱动控制面时仍可录制
func TestKeyManager_NilCollaborator(t *testing.T) {
	pool := NewTaskPool(newFakeExecutor())
	defer pool.Shutdown(time.Second)
	km := NewKeyManager(1, DefaultKeymap(), nil, pool)
	now := time.Now()

	assert.NotPanics(t, func() {
		km.KeyAction(now, uint16(evdev.KEY_FN), true)
		km.KeyAction(now, uint16(evdev.KEY_F9), true)
		km.KeyAction(now, uint16(evdev.KEY_F10), true)
	})
	assert.True(t, km.Recording())
	assert.True(t, km.Grabbed(), "没有 Grabber 时只记录状态")

	km.KeyAction(now, uint16(evdev.KEY_FN), false)
	assert.False(t, km.Grabbed())
	assert.Equal(t, 1, km.DeviceID())
}

// TestKeyManager_TempKeyStore 测试临时按键缓冲的过期
func TestKeyManager_TempKeyStore(t *testing.T) {
	rig := newTestRig(t, WithTempKeyStore(true))

	rig.tap(evdev.KEY_A, 0)

	rig.clock.Set(rig.base.Add(1900 * time.Millisecond))
	entries := rig.km.TempKeyStore()
	require.Len(t, entries, 1)
	assert.Equal(t, MatrixPosition{Row: 3, Col: 2}, entries[0].Position)
	assert.Equal(t, rig.base.Add(tempKeyTTL), entries[0].ExpireAt)

	rig.clock.Set(rig.base.Add(2100 * time.Millisecond))
	assert.Empty(t, rig.km.TempKeyStore())
}

// TestKeyManager_TempKeyStoreInactive 测试关闭时不记录
func TestKeyManager_TempKeyStoreInactive(t *testing.T) {
	rig := newTestRig(t)
	assert.False(t, rig.km.TempKeyStoreActive())

	rig.tap(evdev.KEY_A, 0)
	assert.Empty(t, rig.km.TempKeyStore())

	rig.km.SetTempKeyStoreActive(true)
	rig.tap(evdev.KEY_S, 0)
	rig.tap(evdev.KEY_D, 0)
	entries := rig.km.TempKeyStore()
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Colour, entries[1].Colour, "相邻颜色不同")
}

// TestKeyManager_Notify 测试通知钩子不改变状态且不加锁
func TestKeyManager_Notify(t *testing.T) {
	rig := newTestRig(t)

	// 持有锁时调用 Notify 不会死锁
	rig.km.mu.Lock()
	err := rig.km.Notify(*events.NewEffectEvent(0, "setStatic", 255, 0, 0))
	rig.km.mu.Unlock()
	assert.NoError(t, err)

	assert.NoError(t, rig.km.Notify(*events.NewEffectEvent(0, rippleEffect)))
	assert.NoError(t, rig.km.Notify(*events.NewEvent(events.EventTypeStatus, nil)))
	assert.False(t, rig.km.TempKeyStoreActive())
}

// TestKeyManager_MacroCRUD 测试宏的增删查
func TestKeyManager_MacroCRUD(t *testing.T) {
	rig := newTestRig(t)

	err := rig.km.AddMacro("M2", `[{"type":"MacroKey","key_id":"A","pre_pause":0,"state":"DOWN"},{"key_id":"A","pre_pause":1000,"state":"UP"}]`)
	require.NoError(t, err)

	err = rig.km.AddMacro("M3", `[{"key_id":"A","state":"SIDEWAYS"}]`)
	assert.ErrorIs(t, err, models.ErrInvalidMacro)

	err = rig.km.AddMacro("M3", `not json`)
	assert.ErrorIs(t, err, models.ErrInvalidMacro, "顶层 JSON 错误同样归为非法宏")

	err = rig.km.SetMacro("", models.Macro{})
	assert.ErrorIs(t, err, models.ErrInvalidMacro)

	// 绑定键出现在自己的宏中会在回放时递归
	err = rig.km.SetMacro("M4", models.Macro{
		{KeyName: "A", Direction: models.DirectionDown},
		{KeyName: "M4", Direction: models.DirectionDown},
	})
	assert.ErrorIs(t, err, models.ErrInvalidMacro)
	err = rig.km.AddMacro("M4", `[{"key_id":"M4","pre_pause":0,"state":"DOWN"}]`)
	assert.ErrorIs(t, err, models.ErrInvalidMacro)
	assert.NotContains(t, rig.km.MacroTable(), "M4")

	raw, err := rig.km.Macros()
	require.NoError(t, err)
	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded["M2"], 2)
	assert.Equal(t, "UP", decoded["M2"][1]["state"])
	assert.EqualValues(t, 1000, decoded["M2"][1]["pre_pause"])

	assert.True(t, rig.km.DeleteMacro("M2"))
	assert.False(t, rig.km.DeleteMacro("M2"))
	assert.Empty(t, rig.km.MacroTable())
}

// TestKeyManager_ReapsPool 测试每 20 次调用清理一次任务池
func TestKeyManager_ReapsPool(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.km.SetMacro("M1", models.Macro{}))

	rig.press(evdev.KEY_MACRO1, 0)
	require.NotNil(t, rig.executor.nextJob(t))

	require.Eventually(t, func() bool {
		return rig.pool.Len() == 1
	}, time.Second, 5*time.Millisecond)

	// 等任务结束，再凑满 20 次调用
	time.Sleep(20 * time.Millisecond)
	for i := 1; i < reapEvery-1; i++ {
		rig.release(evdev.KEY_Q, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 1, rig.pool.Len(), "第 19 次调用前不清理")

	rig.release(evdev.KEY_Q, time.Second)
	assert.Equal(t, 0, rig.pool.Len())
}

// TestKeyManager_ConcurrentAccess 测试读取协程与查询接口并发
func TestKeyManager_ConcurrentAccess(t *testing.T) {
	rig := newTestRig(t, WithTempKeyStore(true))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rig.tap(evdev.KEY_A, time.Duration(i)*time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = rig.km.Stats()
			_ = rig.km.TempKeyStore()
			_, _ = rig.km.Macros()
		}
	}()
	wg.Wait()

	assert.Equal(t, uint64(200), rig.km.Stats()["2026101709"]["A"])
}
