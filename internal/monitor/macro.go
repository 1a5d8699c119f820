package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/chenyang-zz/keyflow/internal/domain/models"
	"github.com/chenyang-zz/keyflow/internal/platform"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// recordedKey 录制中的一次按下或抬起
type recordedKey struct {
	at        time.Time
	keyName   string
	direction models.Direction
}

// finalizeMacro 把录制序列转换为宏
//
// 每一步的延迟取与上一步时间差的微秒部分（0 ~ 999999），整秒部分被丢弃；
// 第一步延迟为 0。
func finalizeMacro(combo []recordedKey) models.Macro {
	macro := make(models.Macro, 0, len(combo))
	if len(combo) == 0 {
		return macro
	}

	prev := combo[0].at
	for _, key := range combo {
		macro = append(macro, models.MacroStep{
			KeyName:   key.keyName,
			Delay:     subSecondMicros(key.at.Sub(prev)),
			Direction: key.direction,
		})
		prev = key.at
	}
	return macro
}

// subSecondMicros 时间差的微秒分量，负数按向下取整的秒归一化到非负
func subSecondMicros(d time.Duration) uint32 {
	const second = int64(time.Second / time.Microsecond)
	us := d.Microseconds() % second
	if us < 0 {
		us += second
	}
	return uint32(us)
}

// MediaRunner 多媒体动作执行者
type MediaRunner interface {
	Run(ctx context.Context, action platform.MediaAction) error
}

// Player 任务执行器：回放宏、执行多媒体动作
type Player struct {
	keymap  *Keymap
	emitter platform.KeyEmitter
	media   MediaRunner

	// sleep 步骤间等待，测试时可替换
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPlayer 创建执行器
func NewPlayer(keymap *Keymap, emitter platform.KeyEmitter, media MediaRunner) *Player {
	return &Player{
		keymap:  keymap,
		emitter: emitter,
		media:   media,
		sleep:   sleepContext,
	}
}

// Execute 执行任务
func (p *Player) Execute(ctx context.Context, job Job) error {
	switch j := job.(type) {
	case JobMacro:
		return p.playMacro(ctx, j)
	case JobMedia:
		if p.media == nil {
			return platform.ErrUnsupported
		}
		return p.media.Run(ctx, j.Action)
	default:
		return fmt.Errorf("未知任务类型: %T", job)
	}
}

func (p *Player) playMacro(ctx context.Context, job JobMacro) error {
	if p.emitter == nil {
		return platform.ErrUnsupported
	}

	for i, step := range job.Steps {
		if err := p.sleep(ctx, step.DelayDuration()); err != nil {
			return err
		}

		code, err := p.keymap.KeyCode(step.KeyName)
		if err != nil {
			logger.Warn("跳过无法回放的宏步骤",
				zap.String("component", "macro"),
				zap.String("bind_key", job.BindKey),
				zap.Int("step", i),
				zap.Error(err),
			)
			continue
		}

		if step.Direction == models.DirectionDown {
			err = p.emitter.KeyDown(int(code))
		} else {
			err = p.emitter.KeyUp(int(code))
		}
		if err != nil {
			return fmt.Errorf("宏 %s 第 %d 步输出失败: %w", job.BindKey, i, err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
