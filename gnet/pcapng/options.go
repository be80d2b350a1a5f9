package pcapng

import (
	"bytes"
	"fmt"
	"math"

	"github.com/sofiworker/gpcap/gnet/wire"
)

// readOptions 从流中解码选项区域，expected 是块头给出的选项区域总长度。
// 遇到 opt_endofopt 或消费完 expected 即停止，结束标记之后的剩余字节被跳过。
func readOptions(c *wire.ChunkReader, view wire.View, expected int) ([]Option, error) {
	var options []Option
	remaining := expected
	for remaining > 0 {
		hdr, err := c.Read(4, ErrTruncatedOptions)
		if err != nil {
			return nil, err
		}
		code := view.Uint16(hdr[0:2])
		length := int(view.Uint16(hdr[2:4]))
		remaining -= 4

		value, err := c.ReadCopy(length, ErrTruncatedOptions)
		if err != nil {
			return nil, err
		}
		pad := wire.Pad4(length)
		if err := c.Skip(pad, ErrTruncatedOptions); err != nil {
			return nil, err
		}
		remaining -= length + pad

		if code == OptEndOfOpt && length == 0 {
			if remaining > 0 {
				if err := c.Skip(remaining, ErrTruncatedOptions); err != nil {
					return nil, err
				}
			}
			break
		}
		options = append(options, Option{Code: code, Value: value})
	}
	return options, nil
}

// parseOptions 从内存中的选项区域解码，规则与 readOptions 相同。
func parseOptions(data []byte, view wire.View) ([]Option, error) {
	return readOptions(wire.NewChunkReader(bytes.NewReader(data)), view, len(data))
}

// OptionsLen 返回选项编码后的总长度，非空时包含结束标记。
func OptionsLen(options []Option) int {
	if len(options) == 0 {
		return 0
	}
	total := 4
	for _, opt := range options {
		total += 4 + len(opt.Value) + wire.Pad4(len(opt.Value))
	}
	return total
}

// checkOptions 校验每个选项值都能放进 16 位长度字段。
func checkOptions(options []Option) error {
	for _, opt := range options {
		if len(opt.Value) > math.MaxUint16 {
			return fmt.Errorf("%w: code %d has %d bytes", ErrOptionTooLong, opt.Code, len(opt.Value))
		}
	}
	return nil
}

// encodeOptions 编码选项列表，仅在列表非空时追加 opt_endofopt。
// 调用方负责先用 checkOptions 校验长度。
func encodeOptions(options []Option, view wire.View) []byte {
	if len(options) == 0 {
		return nil
	}
	buf := make([]byte, 0, OptionsLen(options))
	var hdr [4]byte
	for _, opt := range options {
		view.PutUint16(hdr[0:2], opt.Code)
		view.PutUint16(hdr[2:4], uint16(len(opt.Value)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, opt.Value...)
		buf = append(buf, make([]byte, wire.Pad4(len(opt.Value)))...)
	}
	buf = append(buf, 0, 0, 0, 0)
	return buf
}

// EncodeOptions 按指定字节序编码选项列表。
func EncodeOptions(options []Option, view wire.View) ([]byte, error) {
	if err := checkOptions(options); err != nil {
		return nil, err
	}
	return encodeOptions(options, view), nil
}

// DecodeOptions 解码 EncodeOptions 产生的字节。
func DecodeOptions(data []byte, view wire.View) ([]Option, error) {
	return parseOptions(data, view)
}

func findTimestampResolution(options []Option) (uint8, bool) {
	res, found := uint8(0), false
	for _, opt := range options {
		if opt.Code == IFTsResol && len(opt.Value) > 0 {
			res, found = opt.Value[0], true
		}
	}
	return res, found
}

func stringOption(code uint16, value string) Option {
	return Option{Code: code, Value: []byte(value)}
}

// OptionString 返回第一个匹配编号的选项值。
func OptionString(options []Option, code uint16) (string, bool) {
	for _, opt := range options {
		if opt.Code == code {
			return string(opt.Value), true
		}
	}
	return "", false
}
