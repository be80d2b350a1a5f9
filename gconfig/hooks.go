package gconfig

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

var byteOrderType = reflect.TypeOf((*binary.ByteOrder)(nil)).Elem()

// DefaultDecodeHooks 返回 New 默认启用的解码钩子：
// 时长、逗号分隔切片、encoding.TextUnmarshaler 以及字节序。
func DefaultDecodeHooks() []mapstructure.DecodeHookFunc {
	return []mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		StringToByteOrderHookFunc(),
	}
}

// StringToByteOrderHookFunc 把 "big"/"little" 之类的字符串解码为 binary.ByteOrder。
func StringToByteOrderHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != byteOrderType {
			return data, nil
		}
		return ParseByteOrder(reflect.ValueOf(data).String())
	}
}

// ParseByteOrder 解析字节序名称，空字符串视为大端。
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "big", "big-endian", "big_endian", "be":
		return binary.BigEndian, nil
	case "little", "little-endian", "little_endian", "le":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("gconfig: unknown byte order %q", name)
	}
}
