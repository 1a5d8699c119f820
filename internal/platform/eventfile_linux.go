//go:build linux

package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// EventFile Linux 输入事件文件
//
// 以 O_RDONLY|O_NONBLOCK 打开，读不到数据时内核返回 EAGAIN。
type EventFile struct {
	path string
	fd   int

	// mu 保护 fd 与 closed，Grab 可能来自读取协程以外的协程
	mu      sync.Mutex
	closed  bool
	grabbed bool
}

// OpenEventFile 打开输入事件文件
//
// Parameters: path - 如 /dev/input/by-id/usb-Razer_BlackWidow-event-kbd
// Returns: *EventFile - 事件文件, error - 打开失败（不存在或权限不足）
func OpenEventFile(path string) (*EventFile, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("打开事件文件 %s 失败: %w", path, err)
	}

	logger.Debug("事件文件已打开",
		zap.String("component", "eventfile"),
		zap.String("path", path),
	)
	return &EventFile{path: path, fd: fd}, nil
}

// ReadRecord 非阻塞读取一条记录
func (f *EventFile) ReadRecord(buf []byte) (bool, error) {
	if len(buf) < RecordSize {
		return false, fmt.Errorf("缓冲区过小: %d < %d", len(buf), RecordSize)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, fmt.Errorf("事件文件 %s 已关闭", f.path)
	}
	fd := f.fd
	f.mu.Unlock()

	n, err := unix.Read(fd, buf[:RecordSize])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("读取事件文件 %s 失败: %w", f.path, err)
	}

	// evdev 每次 read 只返回完整记录
	if n != RecordSize {
		return false, nil
	}
	return true, nil
}

// Grab 通过 EVIOCGRAB 独占或释放设备
func (f *EventFile) Grab(grab bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("事件文件 %s 已关闭", f.path)
	}

	value := 0
	if grab {
		value = 1
	}
	if err := unix.IoctlSetInt(f.fd, EVIOCGRAB, value); err != nil {
		return fmt.Errorf("EVIOCGRAB(%d) %s 失败: %w", value, f.path, err)
	}
	f.grabbed = grab
	return nil
}

// Path 事件文件路径
func (f *EventFile) Path() string {
	return f.path
}

// Close 关闭事件文件，仍处于独占状态时先释放
func (f *EventFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if f.grabbed {
		_ = unix.IoctlSetInt(f.fd, EVIOCGRAB, 0)
		f.grabbed = false
	}
	return unix.Close(f.fd)
}
