package glog

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别，数值与 zapcore.Level 一致。
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
	DPanicLevel
	PanicLevel
	FatalLevel
)

func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel 解析 "debug"、"info" 等级别名称，大小写不敏感。
func ParseLevel(text string) (Level, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(strings.TrimSpace(text))); err != nil {
		return InfoLevel, fmt.Errorf("glog: unknown level %q", text)
	}
	return Level(zl), nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 使 Level 可以直接从配置文件解码。
func (l *Level) UnmarshalText(text []byte) error {
	lvl, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

type Encoding string

const (
	JSONEncoding    Encoding = "json"
	ConsoleEncoding Encoding = "console"
)
