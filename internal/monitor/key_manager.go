package monitor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// 宏指示灯效果
const (
	macroEffectStatic = 0x00
	macroEffectBlink  = 0x01
)

// rippleEffect 需要临时按键缓冲的灯效
const rippleEffect = "setRipple"

// fnMediaKeys FN + 按键 对应的多媒体动作
var fnMediaKeys = map[string]platform.MediaAction{
	KeyF1:    platform.MediaVolumeMute,
	KeyF2:    platform.MediaVolumeDown,
	KeyF3:    platform.MediaVolumeUp,
	KeyF5:    platform.MediaPrevious,
	KeyF6:    platform.MediaPlayPause,
	KeyF7:    platform.MediaNext,
	KeyPause: platform.MediaSleep,
}

// Collaborator 灯效/驱动控制面
type Collaborator interface {
	SetMacroMode(enable bool) error
	SetMacroEffect(effect int) error
	GameMode() (bool, error)
	SetGameMode(enable bool) error
}

// Grabber 独占输入设备
type Grabber interface {
	Grab(grab bool) error
}

// MacroSavedFunc 录制完成后的回调，在锁外调用
type MacroSavedFunc func(bindKey string, macro models.Macro)

// KeyManager 按键管理器
//
// 处理来自 KeyWatcher 的按下/抬起事件：
//   - 把 FN 当作修饰键，按住期间独占设备，避免 FN+键 泄漏给其它程序
//   - FN+F9 开始/结束宏录制，录制后的第一个键作为绑定键
//   - FN+F10 切换游戏模式，FN+F1..F7/PAUSE 执行多媒体动作
//   - 按下已绑定宏的键时回放宏
//   - 按小时统计按键次数，为涟漪灯效保存最近 2 秒的按键
//
// 所有状态由一把互斥锁保护；读取协程调用 KeyAction 时不持有其它锁。
type KeyManager struct {
	deviceID int
	keymap   *Keymap
	collab   Collaborator
	pool     *TaskPool
	grabber  Grabber
	bus      *events.EventBus

	now          func() time.Time
	recordStats  bool
	onMacroSaved MacroSavedFunc

	mu        sync.Mutex
	fnDown    bool
	grabbed   bool
	recording bool
	bindKey   string
	combo     []recordedKey
	macros    models.MacroTable
	stats     *keyStats
	temp      *tempKeyStore
	calls     int
}

// Option KeyManager 选项
type Option func(*KeyManager)

// WithClock 替换时钟，用于临时按键的过期判断
func WithClock(now func() time.Time) Option {
	return func(km *KeyManager) { km.now = now }
}

// WithGrabber 设置独占设备的对象，通常是 KeyWatcher
func WithGrabber(grabber Grabber) Option {
	return func(km *KeyManager) { km.grabber = grabber }
}

// WithEventBus 设置事件总线，用于发布 keypress 和 macro 事件
func WithEventBus(bus *events.EventBus) Option {
	return func(km *KeyManager) { km.bus = bus }
}

// WithRecordStats 是否发布 keypress 事件供持久化
func WithRecordStats(enabled bool) Option {
	return func(km *KeyManager) { km.recordStats = enabled }
}

// WithTempKeyStore 初始的临时按键缓冲开关
func WithTempKeyStore(active bool) Option {
	return func(km *KeyManager) { km.temp.active = active }
}

// WithMacroSavedHook 设置录制完成回调
func WithMacroSavedHook(fn MacroSavedFunc) Option {
	return func(km *KeyManager) { km.onMacroSaved = fn }
}

// WithRand 替换随机数源，用于颜色选择
func WithRand(rnd *rand.Rand) Option {
	return func(km *KeyManager) { km.temp.rnd = rnd }
}

// NewKeyManager 创建按键管理器
//
// Parameters:
//   - deviceID: 设备编号
//   - keymap: 映射表
//   - collab: 驱动控制面，可以为 nil（此时相关调用被忽略）
//   - pool: 宏和多媒体任务池
func NewKeyManager(deviceID int, keymap *Keymap, collab Collaborator, pool *TaskPool, opts ...Option) *KeyManager {
	km := &KeyManager{
		deviceID: deviceID,
		keymap:   keymap,
		collab:   collab,
		pool:     pool,
		now:      time.Now,
		macros:   make(models.MacroTable),
		stats:    newKeyStats(keymap),
		temp:     newTempKeyStore(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
	for _, opt := range opts {
		opt(km)
	}
	return km
}

// KeyAction 处理一次按下或抬起
//
// 映射失败只记录日志，从不返回错误。
func (km *KeyManager) KeyAction(eventTime time.Time, code uint16, pressed bool) {
	km.mu.Lock()
	deferred := km.keyActionLocked(eventTime, code, pressed)
	km.mu.Unlock()

	for _, fn := range deferred {
		fn()
	}
}

// keyActionLocked 持锁处理，返回需要在锁外执行的回调
func (km *KeyManager) keyActionLocked(eventTime time.Time, code uint16, pressed bool) []func() {
	now := km.now()
	km.temp.prune(now)

	km.calls++
	if km.calls%reapEvery == 0 && km.pool != nil {
		km.pool.Reap()
	}

	keyName, err := km.keymap.KeyName(code)
	if err != nil {
		logger.Warn("无法把键码转换为按键名",
			zap.String("component", "key_manager"),
			zap.Int("device", km.deviceID),
			zap.Error(err),
		)
		return nil
	}

	if !pressed {
		km.handleRelease(eventTime, keyName)
		return nil
	}
	return km.handlePress(eventTime, now, keyName)
}

func (km *KeyManager) handleRelease(eventTime time.Time, keyName string) {
	if keyName == KeyFN {
		km.fnDown = false
		if km.grabbed {
			km.setGrab(false)
		}
		return
	}

	if km.recording && !km.fnDown {
		// 绑定键的抬起不记录
		if keyName == km.bindKey {
			return
		}
		km.combo = append(km.combo, recordedKey{at: eventTime, keyName: keyName, direction: models.DirectionUp})
	}
}

func (km *KeyManager) handlePress(eventTime, now time.Time, keyName string) []func() {
	var deferred []func()

	bucket := BucketKey(eventTime)
	if km.stats.increment(bucket, keyName) {
		if km.recordStats {
			data := events.KeyPressEventData{Device: km.deviceID, Key: keyName, Bucket: bucket, Time: eventTime}
			deferred = append(deferred, func() {
				km.publish(events.NewEvent(events.EventTypeKeyPress, data))
			})
		}
	} else {
		logger.Warn("按键不在统计表中",
			zap.String("component", "key_manager"),
			zap.String("key", keyName),
		)
	}

	if km.temp.active {
		if pos, err := km.keymap.Position(keyName); err == nil {
			km.temp.add(now, pos)
		} else {
			logger.Debug("按键没有矩阵位置，不加入临时缓冲",
				zap.String("component", "key_manager"),
				zap.Error(err),
			)
		}
	}

	action, isMedia := fnMediaKeys[keyName]

	switch {
	case keyName == KeyFN:
		km.fnDown = true
		if !km.grabbed {
			km.setGrab(true)
		}

	case km.fnDown && isMedia:
		km.submit(JobMedia{Action: action})

	case km.fnDown && keyName == KeyF9:
		logger.Info("宏录制组合键", zap.String("component", "key_manager"), zap.Int("device", km.deviceID))
		if !km.recording {
			km.startRecording()
		} else {
			deferred = append(deferred, km.stopRecording()...)
		}

	case km.fnDown && keyName == KeyF10:
		logger.Info("游戏模式组合键", zap.String("component", "key_manager"), zap.Int("device", km.deviceID))
		km.toggleGameMode()

	case km.recording:
		switch km.bindKey {
		case "":
			km.bindKey = keyName
			km.callCollab("SetMacroEffect", func(c Collaborator) error { return c.SetMacroEffect(macroEffectStatic) })
		case keyName:
			logger.Warn("跳过宏绑定，绑定键录入自身会导致递归",
				zap.String("component", "key_manager"),
				zap.String("bind_key", keyName),
			)
		default:
			km.combo = append(km.combo, recordedKey{at: eventTime, keyName: keyName, direction: models.DirectionDown})
		}

	default:
		if macro, ok := km.macros[keyName]; ok {
			logger.Info("回放宏",
				zap.String("component", "key_manager"),
				zap.String("bind_key", keyName),
				zap.Int("steps", len(macro)),
			)
			km.submit(JobMacro{BindKey: keyName, Steps: macro.Clone()})
		}
	}

	return deferred
}

func (km *KeyManager) startRecording() {
	km.recording = true
	km.bindKey = ""
	km.combo = nil

	km.callCollab("SetMacroEffect", func(c Collaborator) error { return c.SetMacroEffect(macroEffectBlink) })
	km.callCollab("SetMacroMode", func(c Collaborator) error { return c.SetMacroMode(true) })
}

func (km *KeyManager) stopRecording() []func() {
	var deferred []func()

	macro := finalizeMacro(km.combo)
	bindKey := km.bindKey

	if bindKey == "" {
		logger.Warn("录制结束但没有绑定键，丢弃录制内容",
			zap.String("component", "key_manager"),
			zap.Int("steps", len(macro)),
		)
	} else {
		km.macros[bindKey] = macro
		logger.Info("宏录制完成",
			zap.String("component", "key_manager"),
			zap.String("bind_key", bindKey),
			zap.Int("steps", len(macro)),
		)

		saved := macro.Clone()
		deferred = append(deferred, func() {
			if km.onMacroSaved != nil {
				km.onMacroSaved(bindKey, saved)
			}
			km.publish(events.NewEvent(events.EventTypeMacro, events.MacroEventData{
				Device:  km.deviceID,
				BindKey: bindKey,
				Action:  "recorded",
				Steps:   len(saved),
			}))
		})
	}

	km.recording = false
	km.bindKey = ""
	km.combo = nil

	km.callCollab("SetMacroMode", func(c Collaborator) error { return c.SetMacroMode(false) })
	return deferred
}

func (km *KeyManager) toggleGameMode() {
	if km.collab == nil {
		return
	}

	enabled, err := km.collab.GameMode()
	if err != nil {
		logger.Error("读取游戏模式失败",
			zap.String("component", "key_manager"),
			zap.Error(err),
		)
		return
	}
	km.callCollab("SetGameMode", func(c Collaborator) error { return c.SetGameMode(!enabled) })
}

func (km *KeyManager) callCollab(name string, call func(Collaborator) error) {
	if km.collab == nil {
		return
	}
	if err := call(km.collab); err != nil {
		logger.Error("调用驱动控制面失败",
			zap.String("component", "key_manager"),
			zap.String("call", name),
			zap.Error(err),
		)
	}
}

func (km *KeyManager) submit(job Job) {
	if km.pool == nil {
		return
	}
	km.pool.Submit(job)
}

// setGrab 独占或释放设备，失败时保持原状态以便下次重试
func (km *KeyManager) setGrab(grab bool) {
	if km.grabber != nil {
		if err := km.grabber.Grab(grab); err != nil {
			logger.Error("切换设备独占失败",
				zap.String("component", "key_manager"),
				zap.Bool("grab", grab),
				zap.Error(err),
			)
			return
		}
	}
	km.grabbed = grab
}

func (km *KeyManager) publish(event *events.Event) {
	if km.bus == nil {
		return
	}
	if err := km.bus.Publish(*event); err != nil {
		logger.Debug("发布事件失败",
			zap.String("component", "key_manager"),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// ReleaseGrab 关闭时释放设备独占
func (km *KeyManager) ReleaseGrab() {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.grabbed {
		km.setGrab(false)
	}
}

// Notify 接收 effect 通知，签名与事件总线处理函数一致
//
// 在驱动控制面调用链上可能被同步调用，不能获取 KeyManager 的锁。
func (km *KeyManager) Notify(event events.Event) error {
	data, ok := event.AsEffect()
	if !ok {
		logger.Warn("收到无法识别的通知",
			zap.String("component", "key_manager"),
			zap.String("type", string(event.Type)),
		)
		return nil
	}

	if data.Name != rippleEffect {
		// 临时按键缓冲只由 SetTempKeyStoreActive 开关，这里不改变它
		logger.Debug("灯效变更",
			zap.String("component", "key_manager"),
			zap.Int("origin", data.Origin),
			zap.String("effect", data.Name),
		)
	}
	return nil
}

// TempKeyStore 最近 2 秒内按下的按键（副本）
func (km *KeyManager) TempKeyStore() []TempKeyEntry {
	km.mu.Lock()
	defer km.mu.Unlock()

	km.temp.prune(km.now())
	return km.temp.snapshot()
}

// TempKeyStoreActive 临时按键缓冲是否开启
func (km *KeyManager) TempKeyStoreActive() bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.temp.active
}

// SetTempKeyStoreActive 开关临时按键缓冲
func (km *KeyManager) SetTempKeyStoreActive(active bool) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.temp.active = active
}

// Macros 全部宏的 JSON：{"绑定键": [步骤...]}
func (km *KeyManager) Macros() (string, error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	return models.MarshalMacroTable(km.macros)
}

// MacroTable 宏表副本
func (km *KeyManager) MacroTable() models.MacroTable {
	km.mu.Lock()
	defer km.mu.Unlock()

	out := make(models.MacroTable, len(km.macros))
	for key, macro := range km.macros {
		out[key] = macro.Clone()
	}
	return out
}

// AddMacro 从 JSON 添加或覆盖宏
func (km *KeyManager) AddMacro(bindKey, macroJSON string) error {
	macro, err := models.ParseMacro([]byte(macroJSON))
	if err != nil {
		return err
	}
	return km.SetMacro(bindKey, macro)
}

// SetMacro 添加或覆盖宏
func (km *KeyManager) SetMacro(bindKey string, macro models.Macro) error {
	if bindKey == "" {
		return fmt.Errorf("%w: empty bind key", models.ErrInvalidMacro)
	}
	// 与录制时跳过绑定键一致，回放宏时不能再触发自己
	if macro.Contains(bindKey) {
		return fmt.Errorf("%w: macro %s contains its own bind key", models.ErrInvalidMacro, bindKey)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.macros[bindKey] = macro.Clone()
	return nil
}

// DeleteMacro 删除宏，不存在时什么也不做
//
// Returns: bool - 宏是否存在
func (km *KeyManager) DeleteMacro(bindKey string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	if _, ok := km.macros[bindKey]; !ok {
		return false
	}
	delete(km.macros, bindKey)
	return true
}

// Stats 按小时桶的按键次数副本
func (km *KeyManager) Stats() map[string]map[string]uint64 {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.stats.snapshot()
}

// Recording 是否正在录制宏
func (km *KeyManager) Recording() bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.recording
}

// Grabbed 设备是否处于独占状态
func (km *KeyManager) Grabbed() bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	return km.grabbed
}

// DeviceID 设备编号
func (km *KeyManager) DeviceID() int {
	return km.deviceID
}
