/**
 * Package events 提供事件系统的核心类型定义
 *
 * 事件系统是守护进程内部的通信机制，用于：
 * - 灯效控制层广播效果变更（effect）
 * - 按键管理器广播按键与宏变更
 * - 持久化中间件收集统计数据
 */

package events

import (
	"time"

	"github.com/google/uuid"
)

/**
 * EventType 事件类型枚举
 */
type EventType string

/**
 * 所有事件类型常量
 */
const (
	// 设备事件
	EventTypeEffect   EventType = "effect"   // 灯效变更
	EventTypeKeyPress EventType = "keypress" // 按键按下（统计用）
	EventTypeMacro    EventType = "macro"    // 宏录制/增删

	// 系统事件
	EventTypeError  EventType = "error"  // 错误事件
	EventTypeStatus EventType = "status" // 状态事件
)

/**
 * Event 统一事件结构
 *
 * Data 承载类型化的负载，具体类型由 Type 决定：
 *   - EventTypeEffect   -> EffectEventData
 *   - EventTypeKeyPress -> KeyPressEventData
 *   - EventTypeMacro    -> MacroEventData
 *   - EventTypeStatus   -> StatusEventData
 */
type Event struct {
	// ID 事件唯一标识符
	ID string `json:"id"`

	// Type 事件类型
	Type EventType `json:"type"`

	// Timestamp 事件发生时间
	Timestamp time.Time `json:"timestamp"`

	// Data 事件负载
	Data interface{} `json:"data"`

	// Metadata 事件元数据（可选的额外信息）
	Metadata map[string]string `json:"metadata,omitempty"`
}

/**
 * NewEvent 创建新事件
 *
 * Parameters:
 *   - eventType: 事件类型
 *   - data: 事件负载
 *
 * Returns:
 *   - *Event: 新创建的事件
 */
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  make(map[string]string),
	}
}

/**
 * WithMetadata 添加元数据
 *
 * Returns:
 *   - *Event: 返回自身，支持链式调用
 */
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

/**
 * generateEventID 生成事件唯一 ID（UUID v4）
 */
func generateEventID() string {
	return uuid.New().String()
}

/**
 * EffectEventData 灯效变更数据
 *
 * Origin 是发出变更的设备编号（可能是父设备），Name 是效果名，
 * 如 "setRipple"、"setMacroMode"。
 */
type EffectEventData struct {
	Origin int           `json:"origin"`
	Name   string        `json:"name"`
	Args   []interface{} `json:"args,omitempty"`
}

/**
 * KeyPressEventData 按键按下数据
 */
type KeyPressEventData struct {
	Device int       `json:"device"`
	Key    string    `json:"key"`
	Bucket string    `json:"bucket"` // 小时桶，格式 YYYYMMDDHH
	Time   time.Time `json:"time"`
}

/**
 * MacroEventData 宏变更数据
 */
type MacroEventData struct {
	Device  int    `json:"device"`
	BindKey string `json:"bind_key"`
	Action  string `json:"action"` // recorded / added / deleted
	Steps   int    `json:"steps"`
}

/**
 * StatusEventData 状态事件数据
 */
type StatusEventData struct {
	Status string `json:"status"`
	Device int    `json:"device"`
	Detail string `json:"detail,omitempty"`
}

/**
 * NewEffectEvent 创建灯效变更事件
 */
func NewEffectEvent(origin int, name string, args ...interface{}) *Event {
	return NewEvent(EventTypeEffect, EffectEventData{Origin: origin, Name: name, Args: args})
}

/**
 * AsEffect 取出灯效负载
 *
 * Returns: EffectEventData, bool - 事件类型不是 effect 或负载不匹配时返回 false
 */
func (e Event) AsEffect() (EffectEventData, bool) {
	if e.Type != EventTypeEffect {
		return EffectEventData{}, false
	}
	switch data := e.Data.(type) {
	case EffectEventData:
		return data, true
	case *EffectEventData:
		if data != nil {
			return *data, true
		}
	}
	return EffectEventData{}, false
}

/**
 * AsKeyPress 取出按键负载
 */
func (e Event) AsKeyPress() (KeyPressEventData, bool) {
	if e.Type != EventTypeKeyPress {
		return KeyPressEventData{}, false
	}
	data, ok := e.Data.(KeyPressEventData)
	return data, ok
}
