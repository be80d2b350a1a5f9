package pcapng

import (
	"encoding/binary"
	"math"
	"time"
)

// UnknownTimestamp 标记没有时间戳的包（SimplePacketBlock）。
const UnknownTimestamp int64 = math.MinInt64

type Option struct {
	Code  uint16
	Value []byte
}

// Block 是解码结果的封闭变体，只有本包中的类型实现它。
type Block interface {
	BlockType() BlockType
	BlockOptions() []Option
	isBlock()
}

// Packet 是携带包数据的块的统一视图。
type Packet interface {
	Block
	Nanoseconds() int64
	Payload() []byte
	Interface() uint32
}

type SectionHeaderBlock struct {
	ByteOrder     binary.ByteOrder
	MajorVersion  uint16
	MinorVersion  uint16
	SectionLength int64
	Options       []Option
}

func (b *SectionHeaderBlock) BlockType() BlockType   { return SectionHeaderBlockType }
func (b *SectionHeaderBlock) BlockOptions() []Option { return b.Options }
func (*SectionHeaderBlock) isBlock()                 {}

func (b *SectionHeaderBlock) IsBigEndian() bool {
	return b.ByteOrder == binary.BigEndian
}

type InterfaceDescriptionBlock struct {
	ID       uint32
	LinkType LinkType
	SnapLen  uint32
	Options  []Option
}

func (b *InterfaceDescriptionBlock) BlockType() BlockType   { return InterfaceDescriptionBlockType }
func (b *InterfaceDescriptionBlock) BlockOptions() []Option { return b.Options }
func (*InterfaceDescriptionBlock) isBlock()                 {}

// TimestampResolution 返回 if_tsresol 选项中的原始指数字节，缺省为 6。
func (b *InterfaceDescriptionBlock) TimestampResolution() uint8 {
	if res, ok := findTimestampResolution(b.Options); ok {
		return res
	}
	return ResolutionMicroseconds
}

type EnhancedPacketBlock struct {
	InterfaceID uint32
	Timestamp   int64
	CapturedLen uint32
	OriginalLen uint32
	Data        []byte
	Options     []Option
}

func (b *EnhancedPacketBlock) BlockType() BlockType   { return EnhancedPacketBlockType }
func (b *EnhancedPacketBlock) BlockOptions() []Option { return b.Options }
func (*EnhancedPacketBlock) isBlock()                 {}
func (b *EnhancedPacketBlock) Nanoseconds() int64     { return b.Timestamp }
func (b *EnhancedPacketBlock) Payload() []byte        { return b.Data }
func (b *EnhancedPacketBlock) Interface() uint32      { return b.InterfaceID }

func (b *EnhancedPacketBlock) Time() time.Time {
	return nanosToTime(b.Timestamp)
}

type SimplePacketBlock struct {
	OriginalLen uint32
	Data        []byte
}

func (b *SimplePacketBlock) BlockType() BlockType   { return SimplePacketBlockType }
func (b *SimplePacketBlock) BlockOptions() []Option { return nil }
func (*SimplePacketBlock) isBlock()                 {}
func (b *SimplePacketBlock) Nanoseconds() int64     { return UnknownTimestamp }
func (b *SimplePacketBlock) Payload() []byte        { return b.Data }
func (b *SimplePacketBlock) Interface() uint32      { return 0 }

// PacketBlock 是旧式 pcap 记录的解码结果，固定属于接口 0。
type PacketBlock struct {
	Timestamp   int64
	OriginalLen uint32
	Data        []byte
}

func (b *PacketBlock) BlockType() BlockType   { return PacketBlockType }
func (b *PacketBlock) BlockOptions() []Option { return nil }
func (*PacketBlock) isBlock()                 {}
func (b *PacketBlock) Nanoseconds() int64     { return b.Timestamp }
func (b *PacketBlock) Payload() []byte        { return b.Data }
func (b *PacketBlock) Interface() uint32      { return 0 }

func (b *PacketBlock) Time() time.Time {
	return nanosToTime(b.Timestamp)
}

type InterfaceStatisticsBlock struct {
	InterfaceID uint32
	Timestamp   int64
	Options     []Option
}

func (b *InterfaceStatisticsBlock) BlockType() BlockType   { return InterfaceStatisticsBlockType }
func (b *InterfaceStatisticsBlock) BlockOptions() []Option { return b.Options }
func (*InterfaceStatisticsBlock) isBlock()                 {}

// OtherBlock 保存未专门解析的块的原始内容。
type OtherBlock struct {
	Type BlockType
	Body []byte
}

func (b *OtherBlock) BlockType() BlockType   { return b.Type }
func (b *OtherBlock) BlockOptions() []Option { return nil }
func (*OtherBlock) isBlock()                 {}

func nanosToTime(ns int64) time.Time {
	if ns == UnknownTimestamp {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

var (
	_ Packet = (*EnhancedPacketBlock)(nil)
	_ Packet = (*SimplePacketBlock)(nil)
	_ Packet = (*PacketBlock)(nil)
	_ Block  = (*SectionHeaderBlock)(nil)
	_ Block  = (*InterfaceDescriptionBlock)(nil)
	_ Block  = (*InterfaceStatisticsBlock)(nil)
	_ Block  = (*OtherBlock)(nil)
)
