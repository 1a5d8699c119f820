//go:build !linux

package platform

// EventFile 非 Linux 平台的占位实现
type EventFile struct {
	path string
}

// OpenEventFile 非 Linux 平台没有 evdev，总是返回 ErrUnsupported
func OpenEventFile(path string) (*EventFile, error) {
	return nil, ErrUnsupported
}

func (f *EventFile) ReadRecord(buf []byte) (bool, error) { return false, ErrUnsupported }
func (f *EventFile) Grab(grab bool) error                { return ErrUnsupported }
func (f *EventFile) Path() string                        { return f.path }
func (f *EventFile) Close() error                        { return nil }
