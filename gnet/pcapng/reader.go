package pcapng

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/wire"
)

// Reader 顺序解码 pcapng 流。非并发安全。
type Reader struct {
	c       *wire.ChunkReader
	log     glog.Logger
	state   readerState
	section *SectionHeaderBlock
}

// readerState 是随块解码而变化的会话状态。
type readerState struct {
	view        wire.View
	snapLen     uint32
	tsResol     uint8
	interfaces  []*InterfaceDescriptionBlock
	ifaceResol  []uint8
	sectionBase int // 当前节第一个接口的全局编号
	justStarted bool
	readMagic   bool
}

type ReaderOption func(*Reader)

func WithReaderLogger(l glog.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReader 从流的起始位置读取 pcapng，首个块必须是 SectionHeaderBlock。
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := newReader(r, opts...)
	reader.state.readMagic = true
	return reader
}

// NewReaderAt 用于已消费了 4 字节魔数的流（格式探测之后），
// 首个块直接按 SectionHeaderBlock 解码。
func NewReaderAt(r io.Reader, opts ...ReaderOption) *Reader {
	return newReader(r, opts...)
}

func newReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		c:   wire.NewChunkReader(r),
		log: glog.Default(),
		state: readerState{
			view:        wire.NewView(binary.BigEndian),
			tsResol:     ResolutionMicroseconds,
			justStarted: true,
		},
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

func (r *Reader) CurrentSection() *SectionHeaderBlock {
	return r.section
}

// InterfaceInfo 返回全局编号（跨节累计，即 IDB.ID）对应的接口描述及其时间戳分辨率。
func (r *Reader) InterfaceInfo(id uint32) (*InterfaceDescriptionBlock, uint8, bool) {
	if int(id) >= len(r.state.interfaces) {
		return nil, 0, false
	}
	return r.state.interfaces[id], r.state.ifaceResol[id], true
}

// SectionInterface 按包块中的接口编号（只在当前节内计数）查找接口描述。
func (r *Reader) SectionInterface(id uint32) (*InterfaceDescriptionBlock, uint8, bool) {
	return r.InterfaceInfo(uint32(r.state.sectionBase) + id)
}

// NextBlock 返回下一个块；在块边界上流结束时返回 io.EOF。
func (r *Reader) NextBlock() (Block, error) {
	typ, err := r.nextType()
	if err != nil {
		return nil, err
	}

	if typ == SectionHeaderBlockType {
		shb, err := r.readSectionHeader()
		if err != nil {
			return nil, err
		}
		r.section = shb
		r.state.sectionBase = len(r.state.interfaces)
		r.log.Debugf("pcapng: section v%d.%d big_endian=%t at offset %d",
			shb.MajorVersion, shb.MinorVersion, shb.IsBigEndian(), r.c.Offset())
		return shb, nil
	}

	hdr, err := r.c.Read(4, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	totalLength := int(r.state.view.Uint32(hdr))

	var block Block
	switch typ {
	case EnhancedPacketBlockType:
		block, err = r.readEnhancedPacket(totalLength)
	case InterfaceDescriptionBlockType:
		block, err = r.readInterfaceDescription(totalLength)
	case InterfaceStatisticsBlockType:
		block, err = r.readInterfaceStatistics(totalLength)
	case SimplePacketBlockType:
		block, err = r.readSimplePacket(totalLength)
	default:
		block, err = r.readOther(typ, totalLength)
	}
	if err != nil {
		return nil, err
	}

	if err := r.c.Skip(4, ErrTruncatedHeader); err != nil {
		return nil, err
	}
	return block, nil
}

// ReadPacket 跳过非包块，返回下一个包。
func (r *Reader) ReadPacket() (Packet, error) {
	for {
		block, err := r.NextBlock()
		if err != nil {
			return nil, err
		}
		if pkt, ok := block.(Packet); ok {
			return pkt, nil
		}
	}
}

func (r *Reader) nextType() (BlockType, error) {
	if r.state.justStarted {
		r.state.justStarted = false
		if !r.state.readMagic {
			return SectionHeaderBlockType, nil
		}
		b, err := r.c.ReadBoundary(4, ErrTruncatedHeader)
		if err != nil {
			return 0, err
		}
		if typ := BlockType(binary.BigEndian.Uint32(b)); typ != SectionHeaderBlockType {
			return 0, fmt.Errorf("%w: first block is %s", ErrCorruptSectionHeader, typ)
		}
		return SectionHeaderBlockType, nil
	}

	b, err := r.c.ReadBoundary(4, ErrTruncatedHeader)
	if err != nil {
		return 0, err
	}
	return BlockType(r.state.view.Uint32(b)), nil
}

func (r *Reader) readSectionHeader() (*SectionHeaderBlock, error) {
	hdr, err := r.c.Read(8, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	var rawLength [4]byte
	copy(rawLength[:], hdr[0:4])

	var order binary.ByteOrder
	switch bom := binary.BigEndian.Uint32(hdr[4:8]); bom {
	case ByteOrderMagic:
		order = binary.BigEndian
	case ByteOrderMagicSwapped:
		order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("%w: 0x%08x", ErrCorruptSectionHeader, bom)
	}
	r.state.view = wire.NewView(order)
	view := r.state.view
	totalLength := int(view.Uint32(rawLength[:]))

	body, err := r.c.Read(12, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	shb := &SectionHeaderBlock{
		ByteOrder:     order,
		MajorVersion:  view.Uint16(body[0:2]),
		MinorVersion:  view.Uint16(body[2:4]),
		SectionLength: int64(view.Uint64(body[4:12])),
	}

	if optLen := totalLength - 28; optLen > 0 {
		if shb.Options, err = readOptions(r.c, view, optLen); err != nil {
			return nil, err
		}
	}

	if err := r.c.Skip(4, ErrTruncatedHeader); err != nil {
		return nil, err
	}
	return shb, nil
}

func (r *Reader) readInterfaceDescription(totalLength int) (*InterfaceDescriptionBlock, error) {
	view := r.state.view
	body, err := r.c.Read(8, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	idb := &InterfaceDescriptionBlock{
		ID:       uint32(len(r.state.interfaces)),
		LinkType: LinkType(view.Uint16(body[0:2])),
		SnapLen:  view.Uint32(body[4:8]),
	}

	if optLen := totalLength - 20; optLen > 0 {
		if idb.Options, err = readOptions(r.c, view, optLen); err != nil {
			return nil, err
		}
	}

	r.state.snapLen = idb.SnapLen
	r.state.tsResol = idb.TimestampResolution()
	r.state.interfaces = append(r.state.interfaces, idb)
	r.state.ifaceResol = append(r.state.ifaceResol, r.state.tsResol)
	r.log.Debugf("pcapng: interface %d link=%s snaplen=%d tsresol=%d",
		idb.ID, idb.LinkType, idb.SnapLen, r.state.tsResol)
	return idb, nil
}

func (r *Reader) readInterfaceStatistics(totalLength int) (*InterfaceStatisticsBlock, error) {
	view := r.state.view
	body, err := r.c.Read(12, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	isb := &InterfaceStatisticsBlock{
		InterfaceID: view.Uint32(body[0:4]),
	}
	isb.Timestamp = r.timestamp(isb.InterfaceID, view.Uint32(body[4:8]), view.Uint32(body[8:12]))

	if optLen := totalLength - 24; optLen > 0 {
		if isb.Options, err = readOptions(r.c, view, optLen); err != nil {
			return nil, err
		}
	}
	return isb, nil
}

func (r *Reader) readEnhancedPacket(totalLength int) (*EnhancedPacketBlock, error) {
	view := r.state.view
	body, err := r.c.Read(20, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	epb := &EnhancedPacketBlock{
		InterfaceID: view.Uint32(body[0:4]),
		CapturedLen: view.Uint32(body[12:16]),
		OriginalLen: view.Uint32(body[16:20]),
	}
	epb.Timestamp = r.timestamp(epb.InterfaceID, view.Uint32(body[4:8]), view.Uint32(body[8:12]))

	if epb.Data, err = r.c.ReadCopy(int(epb.CapturedLen), ErrTruncatedPayload); err != nil {
		return nil, err
	}
	padded := int(epb.CapturedLen) + wire.Pad4(int(epb.CapturedLen))
	if err := r.c.Skip(padded-int(epb.CapturedLen), ErrTruncatedPayload); err != nil {
		return nil, err
	}

	if optLen := totalLength - 32 - padded; optLen > 0 {
		if epb.Options, err = readOptions(r.c, view, optLen); err != nil {
			return nil, err
		}
	}
	return epb, nil
}

func (r *Reader) readSimplePacket(totalLength int) (*SimplePacketBlock, error) {
	body, err := r.c.Read(4, ErrTruncatedHeader)
	if err != nil {
		return nil, err
	}
	spb := &SimplePacketBlock{OriginalLen: r.state.view.Uint32(body)}

	data, err := r.c.ReadCopy(totalLength-16, ErrTruncatedPayload)
	if err != nil {
		return nil, err
	}
	limit := spb.OriginalLen
	if r.state.snapLen != 0 && r.state.snapLen < limit {
		limit = r.state.snapLen
	}
	if int(limit) < len(data) {
		data = data[:limit]
	}
	spb.Data = data
	return spb, nil
}

func (r *Reader) readOther(typ BlockType, totalLength int) (*OtherBlock, error) {
	ob := &OtherBlock{Type: typ, Body: []byte{}}
	if totalLength > 12 {
		body, err := r.c.ReadCopy(totalLength-12, ErrTruncatedPayload)
		if err != nil {
			return nil, err
		}
		ob.Body = body
	}
	r.log.Debugf("pcapng: opaque block %s (%d bytes)", typ, len(ob.Body))
	return ob, nil
}

func (r *Reader) timestamp(interfaceID uint32, high, low uint32) int64 {
	res := r.state.tsResol
	if _, ifRes, ok := r.SectionInterface(interfaceID); ok {
		res = ifRes
	}
	return ScaleTimestamp(uint64(high)<<32|uint64(low), res)
}

// ScaleTimestamp 把以 10^-res 秒为单位的时间戳换算为纳秒。
// res 的最高位（2 的幂分辨率）不做解释，res >= 9 时不缩放。
func ScaleTimestamp(raw uint64, res uint8) int64 {
	for i := int(res); i < 9; i++ {
		raw *= 10
	}
	return int64(raw)
}
