package glog

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger 基于 zap 实现 GLogger，With 派生出的实例共享同一个级别。
type zapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	config *Config
}

func newZapLogger(config *Config) (*zapLogger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	writers, err := buildWriters(config)
	if err != nil {
		return nil, err
	}

	var sink io.Writer
	if len(writers) == 1 {
		sink = writers[0]
	} else {
		sink = io.MultiWriter(writers...)
	}

	level := zap.NewAtomicLevelAt(zapcore.Level(config.Level))
	core := zapcore.NewCore(buildEncoder(config), zapcore.AddSync(sink), level)

	return &zapLogger{
		logger: zap.New(core, buildOptions(config)...),
		level:  level,
		config: config,
	}, nil
}

func (l *zapLogger) With(args ...interface{}) GLogger {
	return &zapLogger{
		logger: l.logger.With(sweeten(args)...),
		level:  l.level,
		config: l.config,
	}
}

func (l *zapLogger) Debug(msg string, args ...interface{}) {
	l.logger.Debug(msg, sweeten(args)...)
}

func (l *zapLogger) Info(msg string, args ...interface{}) {
	l.logger.Info(msg, sweeten(args)...)
}

func (l *zapLogger) Warn(msg string, args ...interface{}) {
	l.logger.Warn(msg, sweeten(args)...)
}

func (l *zapLogger) Error(msg string, args ...interface{}) {
	l.logger.Error(msg, sweeten(args)...)
}

func (l *zapLogger) Fatal(msg string, args ...interface{}) {
	l.logger.Fatal(msg, sweeten(args)...)
}

// Debugf 使用格式化字符串记录 debug 级别日志，级别未开启时不做格式化。
func (l *zapLogger) Debugf(format string, args ...interface{}) {
	if l.logger.Core().Enabled(zapcore.DebugLevel) {
		l.logger.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	if l.logger.Core().Enabled(zapcore.InfoLevel) {
		l.logger.Info(fmt.Sprintf(format, args...))
	}
}

func (l *zapLogger) Warnf(format string, args ...interface{}) {
	if l.logger.Core().Enabled(zapcore.WarnLevel) {
		l.logger.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	if l.logger.Core().Enabled(zapcore.ErrorLevel) {
		l.logger.Error(fmt.Sprintf(format, args...))
	}
}

func (l *zapLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	l.logger.Debug(msg, append(sweeten(args), traceFields(ctx)...)...)
}

func (l *zapLogger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	l.logger.Info(msg, append(sweeten(args), traceFields(ctx)...)...)
}

func (l *zapLogger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	l.logger.Warn(msg, append(sweeten(args), traceFields(ctx)...)...)
}

func (l *zapLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	l.logger.Error(msg, append(sweeten(args), traceFields(ctx)...)...)
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.SetLevel(zapcore.Level(level))
}

func (l *zapLogger) Level() Level {
	return Level(l.level.Level())
}

func (l *zapLogger) Config() *Config {
	return l.config
}

func (l *zapLogger) Sync() error {
	return l.logger.Sync()
}

// sweeten 把键值对参数转换为 zap 字段。
// 奇数个参数或非字符串键不会导致 panic，而是以 error 字段记录下来。
func sweeten(args []interface{}) []zap.Field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i == len(args)-1 {
			fields = append(fields,
				zap.Error(ErrInvalidKeyValuePairs),
				zap.Any("ignored", args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			fields = append(fields, zap.Error(fmt.Errorf("%w: got %T", ErrKeyNotString, args[i])))
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

// traceFields 从 ctx 中取出 OpenTelemetry 的 trace/span id。
func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func buildEncoder(config *Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "lvl",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if ec := config.EncoderConfig; ec != nil {
		setKey(&encoderConfig.MessageKey, ec.MessageKey)
		setKey(&encoderConfig.LevelKey, ec.LevelKey)
		setKey(&encoderConfig.TimeKey, ec.TimeKey)
		setKey(&encoderConfig.CallerKey, ec.CallerKey)
		setKey(&encoderConfig.StacktraceKey, ec.StacktraceKey)
	}
	if config.TimeFormat != "" {
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(config.TimeFormat)
	}

	if config.Encoding == JSONEncoding {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func setKey(dst *string, key string) {
	if key != "" {
		*dst = key
	}
}

func buildOptions(config *Config) []zap.Option {
	var opts []zap.Option

	if config.Development {
		opts = append(opts, zap.Development())
	}

	if !config.DisableCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	if !config.DisableStacktrace {
		stackLevel := zapcore.ErrorLevel
		if config.Development {
			stackLevel = zapcore.WarnLevel
		}
		opts = append(opts, zap.AddStacktrace(stackLevel))
	}

	if len(config.InitialFields) > 0 {
		keys := make([]string, 0, len(config.InitialFields))
		for k := range config.InitialFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]zap.Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, zap.Any(k, config.InitialFields[k]))
		}
		opts = append(opts, zap.Fields(fields...))
	}

	return opts
}
