package pcapng

import (
	"encoding/binary"
	"fmt"

	"github.com/sofiworker/gpcap/gnet/wire"
)

// numericOptions 记录按节字节序存储的数值选项及其字宽。
// isb_starttime/isb_endtime 是高低两个 32 位字，所以按 4 字节翻转。
var numericOptions = map[optionKey]int{
	{InterfaceDescriptionBlockType, IFSpeed}:    8,
	{InterfaceDescriptionBlockType, IFTzone}:    4,
	{InterfaceDescriptionBlockType, IFTsOffset}: 8,

	{EnhancedPacketBlockType, EPBFlags}:     4,
	{EnhancedPacketBlockType, EPBDropCount}: 8,
	{EnhancedPacketBlockType, EPBPacketID}:  8,
	{EnhancedPacketBlockType, EPBQueue}:     4,

	{InterfaceStatisticsBlockType, ISBStartTime}:    4,
	{InterfaceStatisticsBlockType, ISBEndTime}:      4,
	{InterfaceStatisticsBlockType, ISBIfRecv}:       8,
	{InterfaceStatisticsBlockType, ISBIfDrop}:       8,
	{InterfaceStatisticsBlockType, ISBFilterAccept}: 8,
	{InterfaceStatisticsBlockType, ISBOSDrop}:       8,
	{InterfaceStatisticsBlockType, ISBUsrDeliv}:     8,
}

// SwapOptions 返回把数值选项翻转为另一种字节序后的副本。
// 字符串、地址等按字节定义的选项以及未知选项原样保留。
func SwapOptions(block BlockType, options []Option) []Option {
	if len(options) == 0 {
		return options
	}
	out := make([]Option, len(options))
	for i, opt := range options {
		out[i] = Option{Code: opt.Code, Value: append([]byte(nil), opt.Value...)}
		width, ok := numericOptions[optionKey{block, opt.Code}]
		if !ok || len(opt.Value)%width != 0 {
			continue
		}
		for off := 0; off < len(opt.Value); off += width {
			word := out[i].Value[off : off+width]
			for l, r := 0, width-1; l < r; l, r = l+1, r-1 {
				word[l], word[r] = word[r], word[l]
			}
		}
	}
	return out
}

// ReorderBody 把不透明块的块体从 from 字节序转换为 to 字节序。
// 目前只认识 NameResolutionBlock，其它块在字节序不同时返回 ErrByteOrderMismatch。
func ReorderBody(typ BlockType, body []byte, from, to binary.ByteOrder) ([]byte, error) {
	if from == to {
		return body, nil
	}
	if typ != NameResolutionBlockType {
		return nil, fmt.Errorf("%w: %s", ErrByteOrderMismatch, typ)
	}

	src, dst := wire.NewView(from), wire.NewView(to)
	out := make([]byte, 0, len(body))
	var hdr [4]byte
	off := 0
	for {
		if off+4 > len(body) {
			return nil, fmt.Errorf("%w: name resolution records", ErrTruncatedPayload)
		}
		recType := src.Uint16(body[off : off+2])
		recLen := int(src.Uint16(body[off+2 : off+4]))
		end := off + 4 + recLen + wire.Pad4(recLen)
		if end > len(body) {
			return nil, fmt.Errorf("%w: name resolution record", ErrTruncatedPayload)
		}
		dst.PutUint16(hdr[0:2], recType)
		dst.PutUint16(hdr[2:4], uint16(recLen))
		out = append(out, hdr[:]...)
		out = append(out, body[off+4:end]...)
		off = end
		if recType == 0 {
			break
		}
	}

	if off == len(body) {
		return out, nil
	}
	options, err := parseOptions(body[off:], src)
	if err != nil {
		return nil, err
	}
	return append(out, encodeOptions(options, dst)...), nil
}
