package platform

import (
	"context"
	"fmt"

	"github.com/holoplot/go-evdev"
)

// MediaAction 多媒体动作
type MediaAction string

const (
	MediaVolumeMute MediaAction = "vol_mute"
	MediaVolumeDown MediaAction = "vol_down"
	MediaVolumeUp   MediaAction = "vol_up"
	MediaPrevious   MediaAction = "media_prev"
	MediaPlayPause  MediaAction = "media_play"
	MediaNext       MediaAction = "media_next"
	MediaSleep      MediaAction = "sleep"
)

// mediaKeyCodes 多媒体动作对应的 input 键码，sleep 走 logind
var mediaKeyCodes = map[MediaAction]int{
	MediaVolumeMute: int(evdev.KEY_MUTE),
	MediaVolumeDown: int(evdev.KEY_VOLUMEDOWN),
	MediaVolumeUp:   int(evdev.KEY_VOLUMEUP),
	MediaPrevious:   int(evdev.KEY_PREVIOUSSONG),
	MediaPlayPause:  int(evdev.KEY_PLAYPAUSE),
	MediaNext:       int(evdev.KEY_NEXTSONG),
}

// MediaController 执行多媒体动作
type MediaController struct {
	emitter   KeyEmitter
	suspender Suspender
}

// NewMediaController 创建多媒体控制器
//
// emitter 或 suspender 为 nil 时对应动作返回 ErrUnsupported
func NewMediaController(emitter KeyEmitter, suspender Suspender) *MediaController {
	return &MediaController{emitter: emitter, suspender: suspender}
}

// Run 执行一个多媒体动作
func (m *MediaController) Run(ctx context.Context, action MediaAction) error {
	if action == MediaSleep {
		if m.suspender == nil {
			return ErrUnsupported
		}
		return m.suspender.Suspend(ctx)
	}

	code, ok := mediaKeyCodes[action]
	if !ok {
		return fmt.Errorf("未知的多媒体动作: %s", action)
	}
	if m.emitter == nil {
		return ErrUnsupported
	}
	return m.emitter.Tap(code)
}
