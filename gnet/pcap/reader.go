package pcap

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/pcapng"
	"github.com/sofiworker/gpcap/gnet/wire"
)

// Reader 顺序解码传统 pcap 流，每条记录产出一个 PacketBlock。非并发安全。
type Reader struct {
	c      *wire.ChunkReader
	view   wire.View
	header FileHeader
	nanos  bool
	log    glog.Logger
}

type ReaderOption func(*Reader)

func WithReaderLogger(l glog.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReader 从流的起始位置读取，先校验 4 字节魔数。
func NewReader(r io.Reader, opts ...ReaderOption) (*Reader, error) {
	c := wire.NewChunkReader(r)
	b, err := c.Read(4, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}

	magic := binary.BigEndian.Uint32(b)
	var order binary.ByteOrder
	switch magic {
	case MagicNumberMicroseconds, MagicNumberNanoseconds:
		order = binary.BigEndian
	case MagicNumberMicrosecondsSwapped, MagicNumberNanosecondsSwapped:
		order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: 0x%08x", ErrInvalidMagicNumber, magic)
	}
	nanos := magic == MagicNumberNanoseconds || magic == MagicNumberNanosecondsSwapped
	return newReader(c, order, nanos, opts...)
}

// NewReaderAt 用于魔数已被消费的流，order 与 nanos 由调用方根据魔数确定。
func NewReaderAt(r io.Reader, order binary.ByteOrder, nanos bool, opts ...ReaderOption) (*Reader, error) {
	return newReader(wire.NewChunkReader(r), order, nanos, opts...)
}

func newReader(c *wire.ChunkReader, order binary.ByteOrder, nanos bool, opts ...ReaderOption) (*Reader, error) {
	reader := &Reader{
		c:     c,
		view:  wire.NewView(order),
		nanos: nanos,
		log:   glog.Default(),
	}
	for _, opt := range opts {
		opt(reader)
	}

	hdr, err := c.Read(fileHeaderLen, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	view := reader.view
	reader.header = FileHeader{
		MagicNumber:  selectMagic(view.Order, nanos),
		VersionMajor: view.Uint16(hdr[0:2]),
		VersionMinor: view.Uint16(hdr[2:4]),
		ThisZone:     int32(view.Uint32(hdr[4:8])),
		SigFigs:      view.Uint32(hdr[8:12]),
		SnapLen:      view.Uint32(hdr[12:16]),
		Network:      view.Uint32(hdr[16:20]),
	}
	reader.log.Debugf("pcap: v%d.%d link=%s snaplen=%d nanos=%t",
		reader.header.VersionMajor, reader.header.VersionMinor,
		reader.header.LinkType(), reader.header.SnapLen, nanos)
	return reader, nil
}

func (r *Reader) Header() FileHeader {
	return r.header
}

// NextBlock 返回下一条记录对应的 *pcapng.PacketBlock，记录边界上结束时返回 io.EOF。
func (r *Reader) NextBlock() (pcapng.Block, error) {
	block, _, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	return block, nil
}

// ReadPacket 以 Packet 形式返回下一条记录。
func (r *Reader) ReadPacket() (*Packet, error) {
	block, header, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	return &Packet{
		Header:    header,
		Data:      block.Data,
		Timestamp: block.Time(),
	}, nil
}

func (r *Reader) readRecord() (*pcapng.PacketBlock, PacketHeader, error) {
	hdr, err := r.c.ReadBoundary(packetHeaderLen, ErrTruncatedHeader)
	if err != nil {
		return nil, PacketHeader{}, err
	}
	header := PacketHeader{
		TsSec:   r.view.Uint32(hdr[0:4]),
		TsFrac:  r.view.Uint32(hdr[4:8]),
		InclLen: r.view.Uint32(hdr[8:12]),
		OrigLen: r.view.Uint32(hdr[12:16]),
	}

	data, err := r.c.ReadCopy(int(header.InclLen), ErrTruncatedPayload)
	if err != nil {
		return nil, PacketHeader{}, err
	}
	return &pcapng.PacketBlock{
		Timestamp:   header.Nanoseconds(r.nanos),
		OriginalLen: header.OrigLen,
		Data:        data,
	}, header, nil
}
