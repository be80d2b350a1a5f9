package pcap

import (
	"encoding/binary"
	"time"

	"github.com/sofiworker/gpcap/gnet/pcapng"
)

// 以大端方式读出的文件魔数。
const (
	MagicNumberMicroseconds        uint32 = 0xa1b2c3d4
	MagicNumberMicrosecondsSwapped uint32 = 0xd4c3b2a1
	MagicNumberNanoseconds         uint32 = 0xa1b23c4d
	MagicNumberNanosecondsSwapped  uint32 = 0x4d3cb2a1
)

const (
	// magic 之后的文件头长度
	fileHeaderLen   = 20
	packetHeaderLen = 16
)

type FileHeader struct {
	MagicNumber  uint32
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	Network      uint32
}

type PacketHeader struct {
	TsSec   uint32
	TsFrac  uint32
	InclLen uint32
	OrigLen uint32
}

type Packet struct {
	Header    PacketHeader
	Data      []byte
	Timestamp time.Time
}

func (h FileHeader) IsLittleEndian() bool {
	switch h.MagicNumber {
	case MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
		return true
	default:
		return false
	}
}

func (h FileHeader) ByteOrder() binary.ByteOrder {
	if h.IsLittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (h FileHeader) IsNanosecond() bool {
	return h.MagicNumber == MagicNumberNanoseconds || h.MagicNumber == MagicNumberNanosecondsSwapped
}

func (h FileHeader) TimestampResolution() time.Duration {
	if h.IsNanosecond() {
		return time.Nanosecond
	}
	return time.Microsecond
}

// LinkType 返回文件头中的链路类型，超出 16 位的高位被丢弃。
func (h FileHeader) LinkType() pcapng.LinkType {
	return pcapng.LinkType(h.Network)
}

// Nanoseconds 把记录头中的时间戳换算为纳秒，nanos 表示小数部分的单位。
func (h *PacketHeader) Nanoseconds(nanos bool) int64 {
	frac := int64(h.TsFrac)
	if !nanos {
		frac *= 1000
	}
	return int64(h.TsSec)*int64(time.Second) + frac
}

func (h *PacketHeader) SetTimestamp(ts time.Time, resolution time.Duration) {
	h.TsSec = uint32(ts.Unix())
	switch resolution {
	case time.Nanosecond:
		h.TsFrac = uint32(ts.Nanosecond())
	default:
		h.TsFrac = uint32(ts.Nanosecond() / 1000)
	}
}

func (p *Packet) CaptureLength() int {
	return len(p.Data)
}

func (p *Packet) OriginalLength() int {
	if p.Header.OrigLen == 0 {
		return len(p.Data)
	}
	return int(p.Header.OrigLen)
}

func selectMagic(order binary.ByteOrder, nanos bool) uint32 {
	if order == binary.BigEndian {
		if nanos {
			return MagicNumberNanoseconds
		}
		return MagicNumberMicroseconds
	}
	if nanos {
		return MagicNumberNanosecondsSwapped
	}
	return MagicNumberMicrosecondsSwapped
}
