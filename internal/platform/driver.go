package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// 驱动属性文件名
const (
	attrGameMode    = "mode_game"
	attrMacroMode   = "mode_macro"
	attrMacroEffect = "mode_macro_effect"
)

// driverAttrs 守护进程会写入的驱动属性
var driverAttrs = []string{attrGameMode, attrMacroMode, attrMacroEffect}

// Driver 键盘内核驱动的 sysfs 属性
//
// 开关类属性写 "1"/"0"，宏灯效写十进制整数。
// 模式属性只改变键盘自身的指示灯，不属于灯效，不发布 effect 事件。
type Driver struct {
	deviceID int
	path     string
}

// NewDriver 创建驱动属性访问器
//
// Parameters:
//   - deviceID: 设备编号，用于日志
//   - path: 驱动属性目录，如 /sys/bus/hid/devices/0003:1532:0203.0001
func NewDriver(deviceID int, path string) *Driver {
	return &Driver{deviceID: deviceID, path: path}
}

// GameMode 是否处于游戏模式
func (d *Driver) GameMode() (bool, error) {
	return d.readBool(attrGameMode)
}

// SetGameMode 开关游戏模式
func (d *Driver) SetGameMode(enable bool) error {
	return d.writeBool(attrGameMode, enable)
}

// MacroMode 是否处于宏录制模式
func (d *Driver) MacroMode() (bool, error) {
	return d.readBool(attrMacroMode)
}

// SetMacroMode 开关宏录制模式（宏指示灯）
func (d *Driver) SetMacroMode(enable bool) error {
	return d.writeBool(attrMacroMode, enable)
}

// MacroEffect 当前宏指示灯效果
func (d *Driver) MacroEffect() (int, error) {
	raw, err := d.read(attrMacroEffect)
	if err != nil {
		return 0, err
	}
	effect, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", attrMacroEffect, err)
	}
	return effect, nil
}

// SetMacroEffect 设置宏指示灯效果，0x00 常亮，0x01 闪烁
func (d *Driver) SetMacroEffect(effect int) error {
	return d.write(attrMacroEffect, strconv.Itoa(effect))
}

func (d *Driver) readBool(name string) (bool, error) {
	raw, err := d.read(name)
	if err != nil {
		return false, err
	}
	return raw == "1", nil
}

func (d *Driver) writeBool(name string, value bool) error {
	if value {
		return d.write(name, "1")
	}
	return d.write(name, "0")
}

func (d *Driver) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return "", fmt.Errorf("读取驱动属性 %s 失败: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (d *Driver) write(name, value string) error {
	// sysfs 属性文件已存在，不能用 O_CREATE
	file, err := os.OpenFile(filepath.Join(d.path, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("打开驱动属性 %s 失败: %w", name, err)
	}
	defer file.Close()

	if _, err := file.WriteString(value); err != nil {
		return fmt.Errorf("写入驱动属性 %s 失败: %w", name, err)
	}

	logger.Debug("写入驱动属性",
		zap.String("component", "driver"),
		zap.Int("device", d.deviceID),
		zap.String("attr", name),
		zap.String("value", value),
	)
	return nil
}
