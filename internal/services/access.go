package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// AccessManager 设备访问权限管理器
//
// 在启动读取器和输出设备之前检查文件权限，结果缓存一段时间，
// 缺失时记录提示并向事件总线发布 error 事件。
type AccessManager struct {
	// checker 平台层权限检查器
	checker platform.AccessChecker

	// eventBus 事件总线，可以为 nil
	eventBus *events.EventBus

	// cache 权限状态缓存
	cache map[platform.AccessType]platform.AccessStatus

	// cacheExpire 缓存过期时间
	cacheExpire map[platform.AccessType]time.Time

	// mu 互斥锁，保护并发访问
	mu sync.RWMutex

	// cacheDuration 缓存有效期（默认 5 分钟）
	cacheDuration time.Duration
}

// NewAccessManager 创建权限管理器
func NewAccessManager(checker platform.AccessChecker, eventBus *events.EventBus) *AccessManager {
	return &AccessManager{
		checker:       checker,
		eventBus:      eventBus,
		cache:         make(map[platform.AccessType]platform.AccessStatus),
		cacheExpire:   make(map[platform.AccessType]time.Time),
		cacheDuration: 5 * time.Minute,
	}
}

// CheckAccess 检查权限状态，优先从缓存获取
func (am *AccessManager) CheckAccess(accessType platform.AccessType) platform.AccessStatus {
	am.mu.RLock()
	if expire, ok := am.cacheExpire[accessType]; ok && time.Now().Before(expire) {
		status := am.cache[accessType]
		am.mu.RUnlock()
		return status
	}
	am.mu.RUnlock()

	am.mu.Lock()
	defer am.mu.Unlock()

	status := am.checker.CheckAccess(accessType)
	am.cache[accessType] = status
	am.cacheExpire[accessType] = time.Now().Add(am.cacheDuration)

	logger.Debug("权限状态（检查）",
		zap.String("component", "access"),
		zap.String("access", accessType.String()),
		zap.String("status", status.String()),
	)
	return status
}

// EnsureAccess 确保权限已授予
//
// 状态未知（没有可检查的路径）视为通过。
//
// Returns: error - 权限被拒绝时返回错误
func (am *AccessManager) EnsureAccess(accessType platform.AccessType) error {
	status := am.CheckAccess(accessType)
	if status != platform.AccessDenied {
		return nil
	}

	hint := accessHint(accessType)
	logger.Warn("权限检查失败",
		zap.String("component", "access"),
		zap.String("access", accessType.String()),
		zap.String("hint", hint),
	)
	am.publish(accessType, status, hint)

	return fmt.Errorf("缺少 %s 权限: %s", accessType, hint)
}

// CheckAndWarn 检查权限，缺失时只提示
//
// Returns: bool - 权限是否可用
func (am *AccessManager) CheckAndWarn(accessType platform.AccessType) bool {
	return am.EnsureAccess(accessType) == nil
}

// InvalidateCache 清除所有权限缓存
func (am *AccessManager) InvalidateCache() {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.cache = make(map[platform.AccessType]platform.AccessStatus)
	am.cacheExpire = make(map[platform.AccessType]time.Time)
}

// SetCacheDuration 设置缓存有效期
func (am *AccessManager) SetCacheDuration(duration time.Duration) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.cacheDuration = duration
}

func (am *AccessManager) publish(accessType platform.AccessType, status platform.AccessStatus, hint string) {
	if am.eventBus == nil {
		return
	}
	event := events.NewEvent(events.EventTypeError, map[string]interface{}{
		"access":  accessType.String(),
		"status":  status.String(),
		"message": hint,
	})
	if err := am.eventBus.Publish(*event); err != nil {
		logger.Debug("发布权限事件失败", zap.String("component", "access"), zap.Error(err))
	}
}

// accessHint 权限缺失时的提示
func accessHint(accessType platform.AccessType) string {
	switch accessType {
	case platform.AccessInputRead:
		return "需要读取输入事件文件，请把用户加入 input 组或以 root 运行"
	case platform.AccessUinputWrite:
		return "需要写入 /dev/uinput 才能回放宏，请加载 uinput 模块并授予写权限"
	case platform.AccessDriverWrite:
		return "需要写入驱动属性文件才能切换宏/游戏模式，请检查 udev 规则"
	default:
		return "需要相关权限才能正常工作"
	}
}
