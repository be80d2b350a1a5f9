package glog

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig 定义了日志轮转的配置。
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge     int  `mapstructure:"max_age" yaml:"max_age"`   // days
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	LocalTime  bool `mapstructure:"local_time" yaml:"local_time"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// EncoderConfig 定义了结构化日志中各个字段的键名。
type EncoderConfig struct {
	MessageKey    string `json:"message_key"`
	LevelKey      string `json:"level_key"`
	TimeKey       string `json:"time_key"`
	CallerKey     string `json:"caller_key"`
	StacktraceKey string `json:"stacktrace_key"`
}

// Config 是一个通用的日志配置结构体。
type Config struct {
	Level             Level
	Encoding          Encoding
	InitialFields     map[string]interface{}
	EnableConsole     bool
	FilePaths         []string
	EncoderConfig     *EncoderConfig
	RotationConfig    *RotationConfig
	DisableCaller     bool
	DisableStacktrace bool
	Development       bool
	TimeFormat        string
}

// DefaultConfig 返回默认日志配置：info 级别、控制台编码、输出到标准错误，
// 标准输出留给命令行工具的正常输出。
func DefaultConfig() *Config {
	return &Config{
		Level:             InfoLevel,
		Encoding:          ConsoleEncoding,
		EnableConsole:     true,
		FilePaths:         nil,
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		InitialFields:     make(map[string]interface{}),
		TimeFormat:        "2006-01-02 15:04:05.000",
		RotationConfig: &RotationConfig{
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 7,
			Compress:   true,
			LocalTime:  true,
		},
		EncoderConfig: &EncoderConfig{
			MessageKey:    "msg",
			LevelKey:      "lvl",
			TimeKey:       "ts",
			CallerKey:     "caller",
			StacktraceKey: "stack",
		},
	}
}

// clone 返回配置的深层副本。
func (c *Config) clone() *Config {
	cp := *c
	if c.RotationConfig != nil {
		rotation := *c.RotationConfig
		cp.RotationConfig = &rotation
	}
	if c.EncoderConfig != nil {
		encoder := *c.EncoderConfig
		cp.EncoderConfig = &encoder
	}
	if c.InitialFields != nil {
		cp.InitialFields = make(map[string]interface{}, len(c.InitialFields))
		for k, v := range c.InitialFields {
			cp.InitialFields[k] = v
		}
	}
	cp.FilePaths = append([]string(nil), c.FilePaths...)
	return &cp
}

// buildWriters 根据配置构建 io.Writer。
func buildWriters(config *Config) ([]io.Writer, error) {
	writers := make([]io.Writer, 0, len(config.FilePaths)+1)

	if config.EnableConsole {
		writers = append(writers, os.Stderr)
	}

	// 如果没有文件输出也没有控制台输出，仍然输出到标准错误
	if len(config.FilePaths) == 0 && !config.EnableConsole {
		writers = append(writers, os.Stderr)
	}

	for _, path := range config.FilePaths {
		var writer io.Writer
		if rc := config.RotationConfig; rc != nil {
			writer = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    rc.MaxSize,
				MaxAge:     rc.MaxAge,
				MaxBackups: rc.MaxBackups,
				LocalTime:  rc.LocalTime,
				Compress:   rc.Compress,
			}
		} else {
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, err
			}
			writer = file
		}
		writers = append(writers, writer)
	}

	return writers, nil
}
