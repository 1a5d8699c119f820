/**
 * keyflowd 主入口文件
 *
 * 按键管理守护进程的启动点，负责：
 * 1. 解析命令行参数并加载配置
 * 2. 初始化日志
 * 3. 启动 App，等待退出信号后关闭
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chenyang-zz/keyflow/internal/app"
	"github.com/chenyang-zz/keyflow/internal/infrastructure/config"
	"github.com/chenyang-zz/keyflow/pkg/logger"
	"go.uber.org/zap"
)

// version 构建时通过 -ldflags "-X main.version=..." 注入
var version = "dev"

// eventFiles 可重复的 -event-file 参数
type eventFiles []string

func (f *eventFiles) String() string { return strings.Join(*f, ",") }

func (f *eventFiles) Set(value string) error {
	*f = append(*f, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		deviceID    int
		files       eventFiles
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径（默认 ~/.keyflow/config.yaml）")
	flag.IntVar(&deviceID, "device", -1, "设备编号，覆盖配置文件")
	flag.Var(&files, "event-file", "输入事件文件，可重复指定，覆盖配置文件")
	flag.BoolVar(&showVersion, "version", false, "打印版本后退出")
	flag.Parse()

	if showVersion {
		fmt.Println("keyflowd", version)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		return 1
	}
	if deviceID >= 0 {
		cfg.Device.ID = deviceID
	}
	if len(files) > 0 {
		cfg.Device.EventFiles = files
	}

	if err := logger.InitWithOptions(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: logger.FileOptions{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	}); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon := app.New(cfg)
	if err := daemon.Startup(); err != nil {
		logger.Error("启动失败", zap.String("component", "main"), zap.Error(err))
		return 1
	}

	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭", zap.String("component", "main"), zap.String("version", version))
	daemon.Shutdown()
	return 0
}
