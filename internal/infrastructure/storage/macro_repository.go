package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

/**
 * MacroRepository 宏存储接口
 *
 * 以 (设备编号, 绑定键) 为主键保存录制好的宏
 */
type MacroRepository interface {
	// Save 保存或覆盖一个宏
	Save(deviceID int, bindKey string, macro models.Macro) error

	// Delete 删除一个宏，返回是否存在
	Delete(deviceID int, bindKey string) (bool, error)

	// LoadAll 加载某个设备的全部宏
	LoadAll(deviceID int) (models.MacroTable, error)
}

/**
 * SQLiteMacroRepository SQLite 宏仓储实现
 */
type SQLiteMacroRepository struct {
	db *sql.DB

	// now 时钟，测试时可替换
	now func() time.Time
}

/**
 * NewSQLiteMacroRepository 创建 SQLite 宏仓储
 *
 * Parameters:
 *   - db: 已执行迁移的数据库连接
 *
 * Returns: *SQLiteMacroRepository - 宏仓储实例
 */
func NewSQLiteMacroRepository(db *sql.DB) *SQLiteMacroRepository {
	return &SQLiteMacroRepository{db: db, now: time.Now}
}

/**
 * Save 保存宏
 *
 * 同一绑定键再次录制时覆盖旧宏
 */
func (r *SQLiteMacroRepository) Save(deviceID int, bindKey string, macro models.Macro) error {
	if bindKey == "" {
		return fmt.Errorf("%w: empty bind key", models.ErrInvalidMacro)
	}

	stepsJSON, err := json.Marshal(macro.Clone())
	if err != nil {
		return fmt.Errorf("序列化宏失败: %w", err)
	}

	query := `
		INSERT INTO macros (device_id, bind_key, steps, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, bind_key) DO UPDATE SET
			steps = excluded.steps,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, deviceID, bindKey, string(stepsJSON), r.now()); err != nil {
		logger.Error("保存宏失败",
			zap.Int("device", deviceID),
			zap.String("bind_key", bindKey),
			zap.Error(err),
		)
		return fmt.Errorf("保存宏失败: %w", err)
	}

	logger.Debug("宏已保存",
		zap.Int("device", deviceID),
		zap.String("bind_key", bindKey),
		zap.Int("steps", len(macro)),
	)
	return nil
}

/**
 * Delete 删除宏
 *
 * Returns: bool - 宏是否存在, error - 错误信息
 */
func (r *SQLiteMacroRepository) Delete(deviceID int, bindKey string) (bool, error) {
	result, err := r.db.Exec("DELETE FROM macros WHERE device_id = ? AND bind_key = ?", deviceID, bindKey)
	if err != nil {
		return false, fmt.Errorf("删除宏失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取影响行数失败: %w", err)
	}
	return affected > 0, nil
}

/**
 * LoadAll 加载设备的全部宏
 *
 * 无法解析的行记录警告后跳过，不影响其它宏
 */
func (r *SQLiteMacroRepository) LoadAll(deviceID int) (models.MacroTable, error) {
	rows, err := r.db.Query("SELECT bind_key, steps FROM macros WHERE device_id = ?", deviceID)
	if err != nil {
		return nil, fmt.Errorf("查询宏失败: %w", err)
	}
	defer rows.Close()

	table := make(models.MacroTable)
	for rows.Next() {
		var bindKey, stepsJSON string
		if err := rows.Scan(&bindKey, &stepsJSON); err != nil {
			return nil, fmt.Errorf("扫描宏失败: %w", err)
		}

		macro, err := models.ParseMacro([]byte(stepsJSON))
		if err != nil {
			logger.Warn("跳过无法解析的宏",
				zap.Int("device", deviceID),
				zap.String("bind_key", bindKey),
				zap.Error(err),
			)
			continue
		}
		table[bindKey] = macro
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历宏失败: %w", err)
	}
	return table, nil
}
