package glog

import (
	"context"
	"sync"
)

var (
	global GLogger
	mu     sync.RWMutex
)

func init() {
	logger, err := newZapLogger(DefaultConfig())
	if err != nil {
		panic("glog: failed to initialize global logger: " + err.Error())
	}
	global = logger
}

// Configure 使用函数式选项来原子性地重新配置全局日志记录器。
// 选项作用于当前全局配置的副本之上。
func Configure(opts ...Option) error {
	mu.Lock()
	defer mu.Unlock()

	currentConfig := global.Config()
	if currentConfig == nil {
		currentConfig = DefaultConfig()
	}
	newCfg := currentConfig.clone()

	for _, opt := range opts {
		opt(newCfg)
	}

	newLogger, err := New(newCfg)
	if err != nil {
		return err
	}

	global = newLogger
	return nil
}

// Default 返回立即可用的默认全局日志记录器。
func Default() GLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// New 根据提供的配置创建一个新的 GLogger 实例。
func New(c *Config) (GLogger, error) {
	return newZapLogger(c)
}

// SetLevel 动态地改变全局日志记录器的级别。
func SetLevel(level Level) {
	Default().SetLevel(level)
}

// CurrentLevel 返回全局日志记录器当前的级别。
func CurrentLevel() Level {
	return Default().Level()
}

func With(args ...interface{}) GLogger            { return Default().With(args...) }
func Debug(msg string, args ...interface{})       { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})        { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})        { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{})       { Default().Error(msg, args...) }
func Fatal(msg string, args ...interface{})       { Default().Fatal(msg, args...) }
func Debugf(template string, args ...interface{}) { Default().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { Default().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Default().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Default().Errorf(template, args...) }
func DebugContext(ctx context.Context, msg string, args ...interface{}) {
	Default().DebugContext(ctx, msg, args...)
}
func InfoContext(ctx context.Context, msg string, args ...interface{}) {
	Default().InfoContext(ctx, msg, args...)
}
func WarnContext(ctx context.Context, msg string, args ...interface{}) {
	Default().WarnContext(ctx, msg, args...)
}
func ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	Default().ErrorContext(ctx, msg, args...)
}
func Sync() error { return Default().Sync() }
