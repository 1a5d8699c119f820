//go:build !linux

package platform

// UinputEmitter 非 Linux 平台的占位实现
type UinputEmitter struct{}

// NewKeyEmitter 非 Linux 平台没有 uinput，总是返回 ErrUnsupported
func NewKeyEmitter() (*UinputEmitter, error) {
	return nil, ErrUnsupported
}

func (e *UinputEmitter) KeyDown(code int) error { return ErrUnsupported }
func (e *UinputEmitter) KeyUp(code int) error   { return ErrUnsupported }
func (e *UinputEmitter) Tap(code int) error     { return ErrUnsupported }
