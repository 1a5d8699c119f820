//go:build linux

package platform

import (
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"github.com/micmonay/keybd_event"
	"go.uber.org/zap"
)

// uinputSettle 新建 uinput 设备后需要等待桌面环境识别
const uinputSettle = 2 * time.Second

// UinputEmitter 基于 uinput 虚拟键盘的按键输出
//
// keybd_event 在 Linux 上的键码就是 input 键码，与 evdev 读到的一致。
type UinputEmitter struct {
	// mu KeyBonding 保存待发送按键列表，不能并发使用
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

// NewKeyEmitter 创建虚拟键盘
//
// Returns: *UinputEmitter - 按键输出, error - 没有 /dev/uinput 写权限时失败
func NewKeyEmitter() (*UinputEmitter, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("创建虚拟键盘失败: %w", err)
	}

	time.Sleep(uinputSettle)

	logger.Info("虚拟键盘已创建", zap.String("component", "emitter"))
	return &UinputEmitter{kb: kb}, nil
}

func (e *UinputEmitter) KeyDown(code int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.kb.SetKeys(code)
	return e.kb.Press()
}

func (e *UinputEmitter) KeyUp(code int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.kb.SetKeys(code)
	return e.kb.Release()
}

func (e *UinputEmitter) Tap(code int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.kb.SetKeys(code)
	return e.kb.Launching()
}
