package platform

import (
	"context"
	"errors"
)

// RecordSize 一条 input_event 记录的字节数（64 位平台）
const RecordSize = 24

// EVIOCGRAB 独占输入设备的 ioctl 请求号
const EVIOCGRAB = 0x40044590

// ErrUnsupported 当前平台不支持该操作
var ErrUnsupported = errors.New("platform: not supported on this OS")

// EventSource 输入事件来源
//
// 对应一个以只读、非阻塞方式打开的 /dev/input 事件文件。
// ReadRecord 没有数据时返回 (false, nil)，不会阻塞调用方。
type EventSource interface {
	// ReadRecord 读取一条完整记录到 buf（长度至少 RecordSize）
	// Returns: bool - 是否读到记录, error - 读取失败（设备拔出等）
	ReadRecord(buf []byte) (bool, error)

	// Grab 独占或释放设备，独占期间按键不会传递给其它程序
	Grab(grab bool) error

	// Path 事件文件路径
	Path() string

	// Close 关闭事件文件
	Close() error
}

// KeyEmitter 合成按键输出
//
// 用于宏回放和多媒体键，键码使用 Linux input 键码。
type KeyEmitter interface {
	KeyDown(code int) error
	KeyUp(code int) error

	// Tap 按下并抬起
	Tap(code int) error
}

// Suspender 系统挂起
type Suspender interface {
	Suspend(ctx context.Context) error
}
