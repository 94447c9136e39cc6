package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 全局日志对象，只在 cmd 层初始化
// 库代码通过 Option 接收 *zap.Logger，不直接使用这里的全局变量
var Sugar *zap.SugaredLogger
var Logger *zap.Logger

// InitLogger 初始化日志组件
// mode: "development" 或 "production"
// level: "debug", "info", "warn", "error"，为空时使用模式的默认级别
func InitLogger(mode string, level string) error {
	var config zap.Config

	// 1. 根据模式选择配置
	if mode == "production" {
		// 生产环境：JSON 格式，只记录 Warning 及以上
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	} else {
		// 开发环境：Console 格式，记录 Debug 及以上
		config = zap.NewDevelopmentConfig()
	}

	// 2. 解析日志级别，覆盖默认配置
	if level != "" {
		var zapLevel zapcore.Level
		if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(zapLevel)
	}

	// 3. 事件监控输出走 stdout，日志保持在 stderr
	config.OutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	Logger = l
	Sugar = Logger.Sugar()
	return nil
}

// Named 返回带组件名的子 logger，未初始化时返回 Nop
func Named(component string) *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger.Named(component)
}

// CloseLogger 确保程序退出时，所有缓冲区的日志都被写入
func CloseLogger() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
