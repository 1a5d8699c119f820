package monitor

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/holoplot/go-evdev"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownKeyCode 键码不在映射表中
	ErrUnknownKeyCode = errors.New("unknown key code")

	// ErrUnknownKeyName 按键名不在映射表中
	ErrUnknownKeyName = errors.New("unknown key name")
)

// 语义按键名
const (
	KeyFN    = "FN"
	KeyF1    = "F1"
	KeyF2    = "F2"
	KeyF3    = "F3"
	KeyF5    = "F5"
	KeyF6    = "F6"
	KeyF7    = "F7"
	KeyF9    = "F9"
	KeyF10   = "F10"
	KeyPause = "PAUSE"
)

// MatrixPosition 按键在灯光矩阵中的位置
type MatrixPosition struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Keymap 键码、按键名与矩阵位置之间的映射
//
// 所有出现过的按键名按字典序编号，统计桶按编号索引。
// 构造后只读，可以在多个协程间共享。
type Keymap struct {
	codeToName map[uint16]string
	nameToCode map[string]uint16
	positions  map[string]MatrixPosition

	names []string
	index map[string]int
}

// NewKeymap 用给定的映射表构造 Keymap
func NewKeymap(codes map[uint16]string, positions map[string]MatrixPosition) *Keymap {
	km := &Keymap{
		codeToName: make(map[uint16]string, len(codes)),
		nameToCode: make(map[string]uint16, len(codes)),
		positions:  make(map[string]MatrixPosition, len(positions)),
		index:      make(map[string]int),
	}

	for code, name := range codes {
		km.codeToName[code] = name
		km.nameToCode[name] = code
	}
	for name, pos := range positions {
		km.positions[name] = pos
	}

	seen := make(map[string]bool)
	for _, name := range km.codeToName {
		seen[name] = true
	}
	for name := range km.positions {
		seen[name] = true
	}
	for name := range seen {
		km.names = append(km.names, name)
	}
	sort.Strings(km.names)
	for i, name := range km.names {
		km.index[name] = i
	}
	return km
}

// KeyName 键码 -> 按键名
func (km *Keymap) KeyName(code uint16) (string, error) {
	name, ok := km.codeToName[code]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownKeyCode, code)
	}
	return name, nil
}

// KeyCode 按键名 -> 键码，用于宏回放
func (km *Keymap) KeyCode(name string) (uint16, error) {
	code, ok := km.nameToCode[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKeyName, name)
	}
	return code, nil
}

// Position 按键名 -> 矩阵位置
func (km *Keymap) Position(name string) (MatrixPosition, error) {
	pos, ok := km.positions[name]
	if !ok {
		return MatrixPosition{}, fmt.Errorf("%w: %s", ErrUnknownKeyName, name)
	}
	return pos, nil
}

// KeyIndex 按键名的枚举编号
func (km *Keymap) KeyIndex(name string) (int, bool) {
	i, ok := km.index[name]
	return i, ok
}

// Names 全部按键名（按编号顺序）
func (km *Keymap) Names() []string {
	out := make([]string, len(km.names))
	copy(out, km.names)
	return out
}

// Len 按键总数
func (km *Keymap) Len() int {
	return len(km.names)
}

// keymapFile 映射表覆盖文件
//
//	codes:
//	  656: M1
//	positions:
//	  M1: [1, 0]
type keymapFile struct {
	Codes     map[uint16]string `yaml:"codes"`
	Positions map[string][]int  `yaml:"positions"`
}

// LoadKeymap 加载映射表
//
// path 为空时返回内置表；否则在内置表基础上应用文件中的覆盖项。
func LoadKeymap(path string) (*Keymap, error) {
	codes, positions := defaultTables()
	if path == "" {
		return NewKeymap(codes, positions), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取映射表 %s 失败: %w", path, err)
	}

	var file keymapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析映射表 %s 失败: %w", path, err)
	}

	for code, name := range file.Codes {
		if name == "" {
			delete(codes, code)
			continue
		}
		codes[code] = name
	}
	for name, pos := range file.Positions {
		if len(pos) != 2 {
			return nil, fmt.Errorf("按键 %s 的位置应为 [row, col]，实际为 %v", name, pos)
		}
		positions[name] = MatrixPosition{Row: pos[0], Col: pos[1]}
	}

	return NewKeymap(codes, positions), nil
}

// DefaultKeymap 内置映射表（全尺寸键盘 + M1-M5 宏键 + FN）
func DefaultKeymap() *Keymap {
	codes, positions := defaultTables()
	return NewKeymap(codes, positions)
}

type keyDef struct {
	name string
	code evdev.EvCode
}

// matrixRows 6x22 灯光矩阵，空字符串表示该列没有按键
var matrixRows = [][]keyDef{
	{
		{"", 0}, {"ESC", evdev.KEY_ESC}, {"", 0},
		{"F1", evdev.KEY_F1}, {"F2", evdev.KEY_F2}, {"F3", evdev.KEY_F3}, {"F4", evdev.KEY_F4},
		{"F5", evdev.KEY_F5}, {"F6", evdev.KEY_F6}, {"F7", evdev.KEY_F7}, {"F8", evdev.KEY_F8},
		{"F9", evdev.KEY_F9}, {"F10", evdev.KEY_F10}, {"F11", evdev.KEY_F11}, {"F12", evdev.KEY_F12},
		{"PRTSCR", evdev.KEY_SYSRQ}, {"SCROLLLOCK", evdev.KEY_SCROLLLOCK}, {"PAUSE", evdev.KEY_PAUSE},
	},
	{
		{"M1", evdev.KEY_MACRO1}, {"GRAVE", evdev.KEY_GRAVE},
		{"1", evdev.KEY_1}, {"2", evdev.KEY_2}, {"3", evdev.KEY_3}, {"4", evdev.KEY_4}, {"5", evdev.KEY_5},
		{"6", evdev.KEY_6}, {"7", evdev.KEY_7}, {"8", evdev.KEY_8}, {"9", evdev.KEY_9}, {"0", evdev.KEY_0},
		{"MINUS", evdev.KEY_MINUS}, {"EQUALS", evdev.KEY_EQUAL}, {"BACKSPACE", evdev.KEY_BACKSPACE},
		{"INSERT", evdev.KEY_INSERT}, {"HOME", evdev.KEY_HOME}, {"PAGEUP", evdev.KEY_PAGEUP},
		{"NUMLOCK", evdev.KEY_NUMLOCK}, {"NUMDIVIDE", evdev.KEY_KPSLASH},
		{"NUMMULTIPLY", evdev.KEY_KPASTERISK}, {"NUMSUBTRACT", evdev.KEY_KPMINUS},
	},
	{
		{"M2", evdev.KEY_MACRO2}, {"TAB", evdev.KEY_TAB},
		{"Q", evdev.KEY_Q}, {"W", evdev.KEY_W}, {"E", evdev.KEY_E}, {"R", evdev.KEY_R}, {"T", evdev.KEY_T},
		{"Y", evdev.KEY_Y}, {"U", evdev.KEY_U}, {"I", evdev.KEY_I}, {"O", evdev.KEY_O}, {"P", evdev.KEY_P},
		{"LEFTBRACE", evdev.KEY_LEFTBRACE}, {"RIGHTBRACE", evdev.KEY_RIGHTBRACE}, {"BACKSLASH", evdev.KEY_BACKSLASH},
		{"DELETE", evdev.KEY_DELETE}, {"END", evdev.KEY_END}, {"PAGEDOWN", evdev.KEY_PAGEDOWN},
		{"NUM7", evdev.KEY_KP7}, {"NUM8", evdev.KEY_KP8}, {"NUM9", evdev.KEY_KP9}, {"NUMADD", evdev.KEY_KPPLUS},
	},
	{
		{"M3", evdev.KEY_MACRO3}, {"CAPSLOCK", evdev.KEY_CAPSLOCK},
		{"A", evdev.KEY_A}, {"S", evdev.KEY_S}, {"D", evdev.KEY_D}, {"F", evdev.KEY_F}, {"G", evdev.KEY_G},
		{"H", evdev.KEY_H}, {"J", evdev.KEY_J}, {"K", evdev.KEY_K}, {"L", evdev.KEY_L},
		{"SEMICOLON", evdev.KEY_SEMICOLON}, {"APOSTROPHE", evdev.KEY_APOSTROPHE}, {"", 0},
		{"RETURN", evdev.KEY_ENTER}, {"", 0}, {"", 0}, {"", 0},
		{"NUM4", evdev.KEY_KP4}, {"NUM5", evdev.KEY_KP5}, {"NUM6", evdev.KEY_KP6},
	},
	{
		{"M4", evdev.KEY_MACRO4}, {"LEFTSHIFT", evdev.KEY_LEFTSHIFT}, {"", 0},
		{"Z", evdev.KEY_Z}, {"X", evdev.KEY_X}, {"C", evdev.KEY_C}, {"V", evdev.KEY_V}, {"B", evdev.KEY_B},
		{"N", evdev.KEY_N}, {"M", evdev.KEY_M},
		{"COMMA", evdev.KEY_COMMA}, {"PERIOD", evdev.KEY_DOT}, {"SLASH", evdev.KEY_SLASH}, {"", 0},
		{"RIGHTSHIFT", evdev.KEY_RIGHTSHIFT}, {"", 0}, {"UP", evdev.KEY_UP}, {"", 0},
		{"NUM1", evdev.KEY_KP1}, {"NUM2", evdev.KEY_KP2}, {"NUM3", evdev.KEY_KP3}, {"NUMENTER", evdev.KEY_KPENTER},
	},
	{
		{"M5", evdev.KEY_MACRO5}, {"LEFTCTRL", evdev.KEY_LEFTCTRL}, {"LEFTMETA", evdev.KEY_LEFTMETA},
		{"LEFTALT", evdev.KEY_LEFTALT}, {"", 0}, {"", 0}, {"", 0},
		{"SPACE", evdev.KEY_SPACE}, {"", 0}, {"", 0}, {"", 0},
		{"RIGHTALT", evdev.KEY_RIGHTALT}, {"FN", evdev.KEY_FN}, {"CONTEXT", evdev.KEY_COMPOSE},
		{"RIGHTCTRL", evdev.KEY_RIGHTCTRL},
		{"LEFT", evdev.KEY_LEFT}, {"DOWN", evdev.KEY_DOWN}, {"RIGHT", evdev.KEY_RIGHT}, {"", 0},
		{"NUM0", evdev.KEY_KP0}, {"NUMPERIOD", evdev.KEY_KPDOT},
	},
}

// defaultTables 从矩阵布局生成键码表与位置表，每次返回新的 map
func defaultTables() (map[uint16]string, map[string]MatrixPosition) {
	codes := make(map[uint16]string)
	positions := make(map[string]MatrixPosition)

	for row, keys := range matrixRows {
		for col, key := range keys {
			if key.name == "" {
				continue
			}
			codes[uint16(key.code)] = key.name
			positions[key.name] = MatrixPosition{Row: row, Col: col}
		}
	}
	return codes, positions
}
