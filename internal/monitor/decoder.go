package monitor

import (
	"encoding/binary"
	"time"

	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/holoplot/go-evdev"
)

// Action 按键动作
type Action int

const (
	ActionRelease Action = iota
	ActionPress
	ActionAutorepeat
	ActionUnknown
)

func (a Action) String() string {
	switch a {
	case ActionRelease:
		return "release"
	case ActionPress:
		return "press"
	case ActionAutorepeat:
		return "autorepeat"
	default:
		return "unknown"
	}
}

// KeyEvent 解码后的按键事件
type KeyEvent struct {
	// Time 内核记录的事件时间
	Time time.Time

	Action Action

	// Code input 键码
	Code uint16
}

// Seconds 浮点形式的事件时间：秒 + 微秒/1e6
func (e KeyEvent) Seconds() float64 {
	return float64(e.Time.Unix()) + float64(e.Time.Nanosecond()/1000)*0.000001
}

// DecodeRecord 解析一条 24 字节 input_event 记录
//
// 布局（本机字节序）：秒 int64、微秒 int64、类型 uint16、键码 uint16、值 uint32。
// 只有 EV_KEY 记录产生事件；类型、键码、值全为 0 的同步分隔记录也不产生事件。
func DecodeRecord(data []byte) (KeyEvent, bool) {
	if len(data) < platform.RecordSize {
		return KeyEvent{}, false
	}

	order := binary.NativeEndian
	sec := int64(order.Uint64(data[0:8]))
	usec := int64(order.Uint64(data[8:16]))
	evType := order.Uint16(data[16:18])
	code := order.Uint16(data[18:20])
	value := order.Uint32(data[20:24])

	if evType == 0 && code == 0 && value == 0 {
		return KeyEvent{}, false
	}
	if evType != uint16(evdev.EV_KEY) {
		return KeyEvent{}, false
	}

	action := ActionUnknown
	switch value {
	case 0:
		action = ActionRelease
	case 1:
		action = ActionPress
	case 2:
		action = ActionAutorepeat
	}

	return KeyEvent{
		Time:   time.Unix(sec, usec*int64(time.Microsecond)),
		Action: action,
		Code:   code,
	}, true
}
