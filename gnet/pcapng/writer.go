package pcapng

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/wire"
)

type WriterOption func(*writerConfig) error

type writerConfig struct {
	byteOrder  binary.ByteOrder
	bufferSize int
	logger     glog.Logger
}

// Writer 以追加方式编码 pcapng 块。非并发安全。
type Writer struct {
	w      io.Writer
	buf    *bufio.Writer
	closer io.Closer
	view   wire.View
	log    glog.Logger
	state  writerState
}

// writerState 记录已分配接口的链路类型和分辨率，下标即接口编号。
type writerState struct {
	sectionWritten  bool
	linkTypes       []LinkType
	resolutions     []uint8
	lastInterfaceID int64
}

func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		byteOrder: binary.BigEndian,
		logger:    glog.Default(),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	writer := &Writer{
		w:     w,
		view:  wire.NewView(cfg.byteOrder),
		log:   cfg.logger,
		state: writerState{lastInterfaceID: -1},
	}

	if closer, ok := w.(io.Closer); ok {
		writer.closer = closer
	}

	if cfg.bufferSize > 0 {
		writer.buf = bufio.NewWriterSize(w, cfg.bufferSize)
		writer.w = writer.buf
	}
	return writer, nil
}

func (w *Writer) ByteOrder() binary.ByteOrder {
	return w.view.Order
}

// Interface 返回已分配接口的链路类型与分辨率。
func (w *Writer) Interface(id uint32) (LinkType, uint8, bool) {
	if int64(id) > w.state.lastInterfaceID {
		return 0, 0, false
	}
	return w.state.linkTypes[id], w.state.resolutions[id], true
}

// WriteSectionHeader 写入唯一的 SectionHeaderBlock，空字符串对应的选项被省略。
func (w *Writer) WriteSectionHeader(hardware, osName, application string) error {
	if w.state.sectionWritten {
		return ErrSectionAlreadyWritten
	}

	var options []Option
	if hardware != "" {
		options = append(options, stringOption(SHBHardware, hardware))
	}
	if osName != "" {
		options = append(options, stringOption(SHBOS, osName))
	}
	if application != "" {
		options = append(options, stringOption(SHBUserAppl, application))
	}
	if err := checkOptions(options); err != nil {
		return err
	}

	body := make([]byte, 16, 16+OptionsLen(options))
	w.view.PutUint32(body[0:4], ByteOrderMagic)
	w.view.PutUint16(body[4:6], VersionMajor)
	w.view.PutUint16(body[6:8], VersionMinor)
	w.view.PutUint64(body[8:16], 0xFFFFFFFFFFFFFFFF)
	body = append(body, encodeOptions(options, w.view)...)

	if err := w.writeBlock(SectionHeaderBlockType, body); err != nil {
		return err
	}
	w.state.sectionWritten = true
	return nil
}

type InterfaceOption func(*interfaceConfig) error

type interfaceConfig struct {
	snapLen uint32
	options []Option
}

func WithSnapLen(snapLen uint32) InterfaceOption {
	return func(cfg *interfaceConfig) error {
		cfg.snapLen = snapLen
		return nil
	}
}

func WithInterfaceOption(code uint16, value []byte) InterfaceOption {
	return func(cfg *interfaceConfig) error {
		if code == IFTsResol {
			return fmt.Errorf("pcapng: if_tsresol is derived from the resolution argument")
		}
		if code == OptEndOfOpt {
			return fmt.Errorf("pcapng: opt_endofopt cannot be added explicitly")
		}
		if len(value) > math.MaxUint16 {
			return fmt.Errorf("%w: code %d has %d bytes", ErrOptionTooLong, code, len(value))
		}
		cfg.options = append(cfg.options, Option{
			Code:  code,
			Value: append([]byte(nil), value...),
		})
		return nil
	}
}

// WriteInterfaceDescription 写入接口描述块并返回分配的接口编号。
// 仅当 resolution 不是微秒时写入 if_tsresol。
func (w *Writer) WriteInterfaceDescription(linkType LinkType, resolution uint8, opts ...InterfaceOption) (uint32, error) {
	if !w.state.sectionWritten {
		return 0, ErrNoSection
	}
	cfg := interfaceConfig{}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return 0, err
		}
	}

	options := cfg.options
	if resolution != ResolutionMicroseconds {
		options = append(options, Option{Code: IFTsResol, Value: []byte{resolution}})
	}

	body := make([]byte, 8, 8+OptionsLen(options))
	w.view.PutUint16(body[0:2], uint16(linkType))
	w.view.PutUint16(body[2:4], 0)
	w.view.PutUint32(body[4:8], cfg.snapLen)
	body = append(body, encodeOptions(options, w.view)...)

	if err := w.writeBlock(InterfaceDescriptionBlockType, body); err != nil {
		return 0, err
	}

	w.state.linkTypes = append(w.state.linkTypes, linkType)
	w.state.resolutions = append(w.state.resolutions, resolution)
	w.state.lastInterfaceID++
	id := uint32(w.state.lastInterfaceID)
	w.log.Debugf("pcapng: described interface %d link=%s tsresol=%d", id, linkType, resolution)
	return id, nil
}

// WriteEnhancedPacket 写入增强包块，timestamp 为纳秒，按接口分辨率换算后写出。
// 捕获长度与原始长度相同，不做截断。
func (w *Writer) WriteEnhancedPacket(interfaceID uint32, timestamp int64, data []byte, opts ...Option) error {
	if !w.state.sectionWritten {
		return ErrNoSection
	}
	_, res, ok := w.Interface(interfaceID)
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownInterface, interfaceID)
	}
	if err := checkOptions(opts); err != nil {
		return err
	}

	ts := UnscaleTimestamp(timestamp, res)
	pad := wire.Pad4(len(data))
	body := make([]byte, 20, 20+len(data)+pad+OptionsLen(opts))
	w.view.PutUint32(body[0:4], interfaceID)
	w.view.PutUint32(body[4:8], uint32(ts>>32))
	w.view.PutUint32(body[8:12], uint32(ts))
	w.view.PutUint32(body[12:16], uint32(len(data)))
	w.view.PutUint32(body[16:20], uint32(len(data)))
	body = append(body, data...)
	body = append(body, make([]byte, pad)...)
	body = append(body, encodeOptions(opts, w.view)...)

	return w.writeBlock(EnhancedPacketBlockType, body)
}

// WriteSimplePacket 写入简单包块，包长度记为 len(data)。
func (w *Writer) WriteSimplePacket(data []byte) error {
	if !w.state.sectionWritten {
		return ErrNoSection
	}
	pad := wire.Pad4(len(data))
	body := make([]byte, 4, 4+len(data)+pad)
	w.view.PutUint32(body[0:4], uint32(len(data)))
	body = append(body, data...)
	body = append(body, make([]byte, pad)...)
	return w.writeBlock(SimplePacketBlockType, body)
}

func (w *Writer) WriteInterfaceStatistics(interfaceID uint32, timestamp int64, opts ...Option) error {
	if !w.state.sectionWritten {
		return ErrNoSection
	}
	_, res, ok := w.Interface(interfaceID)
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownInterface, interfaceID)
	}
	if err := checkOptions(opts); err != nil {
		return err
	}
	ts := UnscaleTimestamp(timestamp, res)
	body := make([]byte, 12, 12+OptionsLen(opts))
	w.view.PutUint32(body[0:4], interfaceID)
	w.view.PutUint32(body[4:8], uint32(ts>>32))
	w.view.PutUint32(body[8:12], uint32(ts))
	body = append(body, encodeOptions(opts, w.view)...)
	return w.writeBlock(InterfaceStatisticsBlockType, body)
}

// WriteRawBlock 原样写出一个块体，body 长度必须是 4 的倍数。
func (w *Writer) WriteRawBlock(typ BlockType, body []byte) error {
	if !w.state.sectionWritten {
		return ErrNoSection
	}
	switch typ {
	case SectionHeaderBlockType, InterfaceDescriptionBlockType:
		return fmt.Errorf("pcapng: %s must be written through its dedicated method", typ)
	}
	if len(body)%4 != 0 {
		return fmt.Errorf("pcapng: raw block body of %d bytes is not 32-bit aligned", len(body))
	}
	return w.writeBlock(typ, body)
}

// writeBlock 写出 类型、总长度、块体、总长度。
func (w *Writer) writeBlock(typ BlockType, body []byte) error {
	totalLength := uint32(12 + len(body))
	frame := make([]byte, 0, totalLength)
	var word [4]byte
	w.view.PutUint32(word[:], uint32(typ))
	frame = append(frame, word[:]...)
	w.view.PutUint32(word[:], totalLength)
	frame = append(frame, word[:]...)
	frame = append(frame, body...)
	frame = append(frame, word[:]...)

	_, err := w.w.Write(frame)
	return err
}

// Flush 把缓冲区中的数据写到底层 writer。
func (w *Writer) Flush() error {
	if w.buf != nil {
		return w.buf.Flush()
	}
	return nil
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// UnscaleTimestamp 把纳秒时间戳换算为 10^-res 秒单位，res >= 9 时原样返回。
func UnscaleTimestamp(ns int64, res uint8) uint64 {
	v := uint64(ns)
	for i := int(res); i < 9; i++ {
		v /= 10
	}
	return v
}

func WithByteOrder(order binary.ByteOrder) WriterOption {
	return func(cfg *writerConfig) error {
		if order != binary.BigEndian && order != binary.LittleEndian {
			return fmt.Errorf("pcapng: unsupported byte order")
		}
		cfg.byteOrder = order
		return nil
	}
}

// WithBuffer 启用带缓冲写入以减少系统调用。
func WithBuffer(size int) WriterOption {
	return func(cfg *writerConfig) error {
		if size <= 0 {
			return fmt.Errorf("pcapng: buffer size must be positive")
		}
		cfg.bufferSize = size
		return nil
	}
}

func WithLogger(l glog.Logger) WriterOption {
	return func(cfg *writerConfig) error {
		if l == nil {
			return fmt.Errorf("pcapng: logger is nil")
		}
		cfg.logger = l
		return nil
	}
}
