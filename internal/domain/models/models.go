/**
 * Package models 定义按键宏的领域模型
 *
 * 包含宏步骤、宏序列与宏表的序列化格式
 */

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidMacro 宏 JSON 不合法
var ErrInvalidMacro = errors.New("invalid macro")

/**
 * Direction 按键方向
 */
type Direction string

const (
	// DirectionDown 按下
	DirectionDown Direction = "DOWN"

	// DirectionUp 抬起
	DirectionUp Direction = "UP"
)

/**
 * Valid 方向是否合法
 */
func (d Direction) Valid() bool {
	return d == DirectionDown || d == DirectionUp
}

/**
 * MacroStep 宏步骤
 *
 * 一次录制下来的按下/抬起动作，Delay 是相对上一步的等待时间。
 */
type MacroStep struct {
	// KeyName 语义按键名，如 "A"、"F1"
	KeyName string

	// Delay 相对上一步的延迟（微秒）
	Delay uint32

	// Direction 按键方向
	Direction Direction
}

/**
 * DelayDuration 延迟转换为 time.Duration
 */
func (s MacroStep) DelayDuration() time.Duration {
	return time.Duration(s.Delay) * time.Microsecond
}

/**
 * String 调试输出
 */
func (s MacroStep) String() string {
	return fmt.Sprintf("%s:%s+%dus", s.KeyName, s.Direction, s.Delay)
}

// macroStepJSON 宏步骤的对外 JSON 格式
type macroStepJSON struct {
	Type     string    `json:"type"`
	KeyID    string    `json:"key_id"`
	PrePause uint32    `json:"pre_pause"`
	State    Direction `json:"state"`
}

/**
 * MarshalJSON 序列化为 {"type":"MacroKey","key_id":..,"pre_pause":..,"state":..}
 */
func (s MacroStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(macroStepJSON{
		Type:     "MacroKey",
		KeyID:    s.KeyName,
		PrePause: s.Delay,
		State:    s.Direction,
	})
}

/**
 * UnmarshalJSON 解析外部提供的宏步骤
 *
 * type 缺省时视为 MacroKey；state 必须是 DOWN 或 UP。
 */
func (s *MacroStep) UnmarshalJSON(data []byte) error {
	var raw macroStepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMacro, err)
	}
	if raw.Type != "" && raw.Type != "MacroKey" {
		return fmt.Errorf("%w: unsupported step type %q", ErrInvalidMacro, raw.Type)
	}
	if raw.KeyID == "" {
		return fmt.Errorf("%w: empty key_id", ErrInvalidMacro)
	}
	if !raw.State.Valid() {
		return fmt.Errorf("%w: bad state %q", ErrInvalidMacro, raw.State)
	}

	s.KeyName = raw.KeyID
	s.Delay = raw.PrePause
	s.Direction = raw.State
	return nil
}

/**
 * Macro 宏：有序的步骤序列
 */
type Macro []MacroStep

/**
 * Clone 深拷贝，避免调用方修改宏表内部数据
 */
func (m Macro) Clone() Macro {
	if m == nil {
		return Macro{}
	}
	out := make(Macro, len(m))
	copy(out, m)
	return out
}

/**
 * Contains 宏中是否出现某个按键
 */
func (m Macro) Contains(keyName string) bool {
	for _, step := range m {
		if step.KeyName == keyName {
			return true
		}
	}
	return false
}

/**
 * ParseMacro 从 JSON 数组解析宏
 *
 * 任何解析失败（包括顶层不是 JSON 数组）都返回包装了 ErrInvalidMacro 的错误
 */
func ParseMacro(data []byte) (Macro, error) {
	var macro Macro
	if err := json.Unmarshal(data, &macro); err != nil {
		if errors.Is(err, ErrInvalidMacro) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidMacro, err)
	}
	if macro == nil {
		macro = Macro{}
	}
	return macro, nil
}

/**
 * MacroTable 绑定键 -> 宏
 */
type MacroTable map[string]Macro

/**
 * MarshalMacroTable 把宏表序列化为 {"bind_key": [steps...]}
 */
func MarshalMacroTable(table MacroTable) (string, error) {
	out := make(map[string]Macro, len(table))
	for key, macro := range table {
		out[key] = macro.Clone()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
