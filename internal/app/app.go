/**
 * Package app 守护进程的组装层
 *
 * App 层职责：
 * - 按配置创建存储、事件总线、平台适配器和监控引擎
 * - 管理各组件的启动与关闭顺序
 * - 对外暴露宏管理、统计查询等操作
 */

package app

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/infrastructure/config"
	"github.com/chenyang-zz/keyflow/internal/infrastructure/storage"
	"github.com/chenyang-zz/keyflow/internal/monitor"
	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/internal/services"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// busStopTimeout 关闭事件总线时等待订阅者的时长
const busStopTimeout = 2 * time.Second

/**
 * App 守护进程
 *
 * 一个 App 管理一个设备：一个读取器、一个按键管理器、一个任务池
 */
type App struct {
	// config 守护进程配置
	config *config.Config

	// eventBus 事件总线，承载 effect / keypress / macro / status 事件
	eventBus *events.EventBus

	// db 数据库连接
	db *sql.DB

	// persister 按键统计持久化
	persister *monitor.StatsPersister

	// engine 监控引擎
	engine *monitor.Engine

	// macros 宏管理服务
	macros *services.MacroService

	// access 设备访问权限检查
	access *services.AccessManager

	// openSource 打开事件文件，测试时可替换
	openSource func(path string) (platform.EventSource, error)

	// newEmitter 创建虚拟键盘，测试时可替换
	newEmitter func() (platform.KeyEmitter, error)
}

/**
 * New 创建 App 实例
 *
 * Parameters:
 *   - cfg: 已加载的配置
 */
func New(cfg *config.Config) *App {
	return &App{
		config:     cfg,
		eventBus:   events.NewEventBus(),
		openSource: openEventFile,
		newEmitter: newUinputEmitter,
	}
}

/**
 * Startup 启动守护进程
 *
 * 顺序：权限检查 → 数据库与迁移 → 统计持久化 → 平台适配器 → 宏加载 → 监控引擎。
 * 任何一步失败都会释放已创建的资源。
 */
func (a *App) Startup() (err error) {
	defer func() {
		if err != nil {
			a.Shutdown()
		}
	}()

	cfg := a.config
	deviceID := cfg.Device.ID

	if len(cfg.Device.EventFiles) == 0 {
		return fmt.Errorf("没有配置输入事件文件")
	}

	a.eventBus.Use(events.RecoveryMiddleware())
	a.eventBus.Use(events.LoggingMiddleware(logDispatch))

	a.access = services.NewAccessManager(
		platform.NewFileAccessChecker(cfg.Device.EventFiles, cfg.Device.DriverPath),
		a.eventBus,
	)
	if err := a.access.EnsureAccess(platform.AccessInputRead); err != nil {
		return err
	}

	if err := a.openStorage(); err != nil {
		return err
	}

	var statsRepo storage.StatsRepository = storage.NewSQLiteStatsRepository(a.db)
	if cfg.Statistics.KeyStatistics {
		bw := storage.NewBatchWriter(statsRepo, storage.BatchWriterConfig{
			BatchSize:     cfg.Statistics.BatchSize,
			FlushInterval: cfg.Statistics.FlushInterval,
		})
		bw.Start()
		a.persister = monitor.NewStatsPersister(bw, monitor.DefaultPersistenceConfig())
		a.persister.Attach(a.eventBus)
	}

	keymap, err := monitor.LoadKeymap(cfg.Keymap.Path)
	if err != nil {
		return err
	}

	sources := make([]platform.EventSource, 0, len(cfg.Device.EventFiles))
	for _, path := range cfg.Device.EventFiles {
		src, err := a.openSource(path)
		if err != nil {
			for _, opened := range sources {
				_ = opened.Close()
			}
			return fmt.Errorf("打开事件文件 %s 失败: %w", path, err)
		}
		sources = append(sources, src)
	}
	watcher := monitor.NewKeyWatcher(deviceID, sources, cfg.Device.PollInterval, cfg.Device.StopTimeout)

	emitter := a.emitter()
	media := platform.NewMediaController(emitter, platform.NewLogindSuspender())
	player := monitor.NewPlayer(keymap, emitter, media)
	pool := monitor.NewTaskPool(player)

	var macros *services.MacroService
	manager := monitor.NewKeyManager(deviceID, keymap, a.collaborator(), pool,
		monitor.WithGrabber(watcher),
		monitor.WithEventBus(a.eventBus),
		monitor.WithRecordStats(cfg.Statistics.KeyStatistics),
		monitor.WithTempKeyStore(cfg.TempStore.Enabled),
		monitor.WithMacroSavedHook(func(bindKey string, macro models.Macro) {
			macros.OnRecorded(bindKey, macro)
		}),
	)

	macros = services.NewMacroService(deviceID, manager, storage.NewSQLiteMacroRepository(a.db), a.eventBus)
	if _, err := macros.Load(); err != nil {
		logger.Warn("加载宏失败，使用空宏表", zap.String("component", "app"), zap.Error(err))
	}
	a.macros = macros

	a.engine = monitor.NewEngine(watcher, manager, pool, a.eventBus)
	if err := a.engine.Start(); err != nil {
		return fmt.Errorf("failed to start monitor engine: %w", err)
	}

	logger.Info("守护进程已启动",
		zap.String("component", "app"),
		zap.Int("device", deviceID),
		zap.Strings("event_files", cfg.Device.EventFiles),
		zap.Bool("key_statistics", cfg.Statistics.KeyStatistics),
	)
	return nil
}

/**
 * Shutdown 关闭守护进程
 *
 * 先停止引擎（释放独占、停止读取、等待任务），再刷新统计、关闭数据库和事件总线。
 * 可以重复调用。
 */
func (a *App) Shutdown() {
	if a.engine != nil && a.engine.IsRunning() {
		if err := a.engine.Stop(); err != nil {
			logger.Warn("停止监控引擎失败", zap.String("component", "app"), zap.Error(err))
		}
	}

	if a.persister != nil {
		_ = a.persister.Stop()
		logger.Info("按键统计持久化汇总",
			zap.String("component", "app"),
			zap.Any("stats", a.persister.GetStats()),
		)
		a.persister = nil
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("关闭数据库失败", zap.String("component", "app"), zap.Error(err))
		}
		a.db = nil
	}

	if err := a.eventBus.Stop(busStopTimeout); err != nil {
		logger.Debug("事件总线关闭", zap.String("component", "app"), zap.Error(err))
	}
}

// ========== 对外操作 ==========

// Macros 全部宏的 JSON
func (a *App) Macros() (string, error) {
	if a.macros == nil {
		return "", fmt.Errorf("守护进程未启动")
	}
	return a.macros.List()
}

// AddMacro 添加或覆盖宏
func (a *App) AddMacro(bindKey, macroJSON string) error {
	if a.macros == nil {
		return fmt.Errorf("守护进程未启动")
	}
	return a.macros.Add(bindKey, macroJSON)
}

// DeleteMacro 删除宏
func (a *App) DeleteMacro(bindKey string) error {
	if a.macros == nil {
		return fmt.Errorf("守护进程未启动")
	}
	return a.macros.Delete(bindKey)
}

// KeyManager 按键管理器，未启动时为 nil
func (a *App) KeyManager() *monitor.KeyManager {
	if a.engine == nil {
		return nil
	}
	return a.engine.KeyManager()
}

// EventBus 事件总线
func (a *App) EventBus() *events.EventBus {
	return a.eventBus
}

// ========== 私有方法 ==========

// openStorage 创建数据库目录、连接并执行迁移
func (a *App) openStorage() error {
	sqliteCfg := a.config.Storage.SQLite
	if sqliteCfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(sqliteCfg.Path), 0o755); err != nil {
			return fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := storage.NewSQLiteDB(storage.SQLiteConfig{
		Path:            sqliteCfg.Path,
		MaxOpenConns:    sqliteCfg.MaxOpenConns,
		MaxIdleConns:    sqliteCfg.MaxIdleConns,
		ConnMaxLifetime: sqliteCfg.ConnMaxLifetime,
		BusyTimeout:     sqliteCfg.BusyTimeout,
	})
	if err != nil {
		return err
	}
	a.db = db

	return storage.RunMigrations(db)
}

// collaborator 驱动控制面；没有配置驱动目录时返回 nil
func (a *App) collaborator() monitor.Collaborator {
	path := a.config.Device.DriverPath
	if path == "" {
		logger.Warn("没有配置驱动目录，宏/游戏模式指示不可用", zap.String("component", "app"))
		return nil
	}
	a.access.CheckAndWarn(platform.AccessDriverWrite)
	return platform.NewDriver(a.config.Device.ID, path)
}

// emitter 虚拟键盘；创建失败时返回 nil，宏回放和多媒体键不可用
func (a *App) emitter() platform.KeyEmitter {
	if !a.access.CheckAndWarn(platform.AccessUinputWrite) {
		return nil
	}
	emitter, err := a.newEmitter()
	if err != nil {
		logger.Warn("虚拟键盘不可用", zap.String("component", "app"), zap.Error(err))
		return nil
	}
	return emitter
}

// logDispatch 在 debug 级别记录每次事件分发
func logDispatch(event events.Event) {
	logger.Debug("分发事件",
		zap.String("component", "event_bus"),
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.ID),
	)
}

// openEventFile 与 newUinputEmitter 在失败时返回无类型的 nil 接口

func openEventFile(path string) (platform.EventSource, error) {
	f, err := platform.OpenEventFile(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func newUinputEmitter() (platform.KeyEmitter, error) {
	e, err := platform.NewKeyEmitter()
	if err != nil {
		return nil, err
	}
	return e, nil
}
