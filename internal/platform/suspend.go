package platform

import (
	"context"
	"fmt"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	login1Dest    = "org.freedesktop.login1"
	login1Path    = dbus.ObjectPath("/org/freedesktop/login1")
	login1Suspend = "org.freedesktop.login1.Manager.Suspend"
)

// LogindSuspender 通过 systemd-logind 挂起系统
type LogindSuspender struct{}

// NewLogindSuspender 创建挂起器
func NewLogindSuspender() *LogindSuspender {
	return &LogindSuspender{}
}

// Suspend 调用 org.freedesktop.login1.Manager.Suspend(interactive=true)
func (s *LogindSuspender) Suspend(ctx context.Context) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("连接系统总线失败: %w", err)
	}

	logger.Info("请求系统挂起", zap.String("component", "suspend"))

	obj := conn.Object(login1Dest, login1Path)
	if call := obj.CallWithContext(ctx, login1Suspend, 0, true); call.Err != nil {
		return fmt.Errorf("调用 %s 失败: %w", login1Suspend, call.Err)
	}
	return nil
}
