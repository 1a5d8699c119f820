package services

import (
	"errors"
	"fmt"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/infrastructure/storage"
	"github.com/chenyang-zz/keyflow/pkg/events"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// ErrMacroNotFound 宏不存在
var ErrMacroNotFound = errors.New("macro not found")

// MacroTable 内存中的宏表，由 monitor.KeyManager 实现
type MacroTable interface {
	SetMacro(bindKey string, macro models.Macro) error
	DeleteMacro(bindKey string) bool
	Macros() (string, error)
	MacroTable() models.MacroTable
}

// MacroService 宏管理服务
//
// 把 KeyManager 的内存宏表与 SQLite 中的宏表保持一致：
// 启动时从数据库加载，增删和录制完成时写回数据库。
// 内存表是回放时的唯一依据，数据库写入失败只记录日志。
type MacroService struct {
	deviceID int
	table    MacroTable
	repo     storage.MacroRepository
	eventBus *events.EventBus
}

// NewMacroService 创建宏管理服务
//
// Parameters:
//   - deviceID: 设备编号
//   - table: 内存宏表
//   - repo: 宏仓储，可以为 nil（不持久化）
//   - eventBus: 事件总线，可以为 nil
func NewMacroService(deviceID int, table MacroTable, repo storage.MacroRepository, eventBus *events.EventBus) *MacroService {
	return &MacroService{
		deviceID: deviceID,
		table:    table,
		repo:     repo,
		eventBus: eventBus,
	}
}

// Load 从数据库加载宏到内存表
//
// Returns: int - 加载的宏数量
func (s *MacroService) Load() (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	stored, err := s.repo.LoadAll(s.deviceID)
	if err != nil {
		return 0, fmt.Errorf("加载宏失败: %w", err)
	}

	loaded := 0
	for bindKey, macro := range stored {
		if err := s.table.SetMacro(bindKey, macro); err != nil {
			logger.Warn("跳过无效的宏",
				zap.String("component", "macro_service"),
				zap.String("bind_key", bindKey),
				zap.Error(err),
			)
			continue
		}
		loaded++
	}

	logger.Info("宏已加载",
		zap.String("component", "macro_service"),
		zap.Int("device", s.deviceID),
		zap.Int("count", loaded),
	)
	return loaded, nil
}

// Add 从 JSON 添加或覆盖宏
func (s *MacroService) Add(bindKey, macroJSON string) error {
	macro, err := models.ParseMacro([]byte(macroJSON))
	if err != nil {
		return err
	}
	if err := s.table.SetMacro(bindKey, macro); err != nil {
		return err
	}

	s.save(bindKey, macro)
	s.publish(bindKey, "added", len(macro))
	return nil
}

// Delete 删除宏
//
// Returns: error - 宏不存在时返回 ErrMacroNotFound
func (s *MacroService) Delete(bindKey string) error {
	if !s.table.DeleteMacro(bindKey) {
		return fmt.Errorf("%w: %s", ErrMacroNotFound, bindKey)
	}

	if s.repo != nil {
		if _, err := s.repo.Delete(s.deviceID, bindKey); err != nil {
			logger.Error("从数据库删除宏失败",
				zap.String("component", "macro_service"),
				zap.String("bind_key", bindKey),
				zap.Error(err),
			)
		}
	}

	s.publish(bindKey, "deleted", 0)
	return nil
}

// List 全部宏的 JSON
func (s *MacroService) List() (string, error) {
	return s.table.Macros()
}

// Get 单个宏
func (s *MacroService) Get(bindKey string) (models.Macro, error) {
	macro, ok := s.table.MacroTable()[bindKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMacroNotFound, bindKey)
	}
	return macro, nil
}

// OnRecorded 录制完成回调，签名与 monitor.MacroSavedFunc 一致
func (s *MacroService) OnRecorded(bindKey string, macro models.Macro) {
	s.save(bindKey, macro)
}

func (s *MacroService) save(bindKey string, macro models.Macro) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(s.deviceID, bindKey, macro); err != nil {
		logger.Error("保存宏失败",
			zap.String("component", "macro_service"),
			zap.String("bind_key", bindKey),
			zap.Error(err),
		)
	}
}

func (s *MacroService) publish(bindKey, action string, steps int) {
	if s.eventBus == nil {
		return
	}
	event := events.NewEvent(events.EventTypeMacro, events.MacroEventData{
		Device:  s.deviceID,
		BindKey: bindKey,
		Action:  action,
		Steps:   steps,
	})
	if err := s.eventBus.Publish(*event); err != nil {
		logger.Debug("发布宏事件失败", zap.String("component", "macro_service"), zap.Error(err))
	}
}
