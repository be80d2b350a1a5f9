package pcap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/pcapng"
	"github.com/sofiworker/gpcap/gnet/wire"
)

type WriterOption func(*writerConfig) error

type writerConfig struct {
	byteOrder  binary.ByteOrder
	resolution time.Duration
	versionMaj uint16
	versionMin uint16
	thisZone   int32
	sigFigs    uint32
	snapLen    uint32
	network    uint32
	bufferSize int
	logger     glog.Logger
}

// Writer 写出传统 pcap 文件，文件头在创建时立即写出。非并发安全。
type Writer struct {
	w      io.Writer
	buf    *bufio.Writer
	header FileHeader
	view   wire.View
	tsUnit time.Duration
	closer io.Closer
	log    glog.Logger
}

func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{
		byteOrder:  binary.LittleEndian,
		resolution: time.Microsecond,
		versionMaj: 2,
		versionMin: 4,
		snapLen:    65535,
		network:    uint32(pcapng.LinkTypeEthernet),
		logger:     glog.Default(),
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	writer := &Writer{
		w: w,
		header: FileHeader{
			MagicNumber:  selectMagic(cfg.byteOrder, cfg.resolution == time.Nanosecond),
			VersionMajor: cfg.versionMaj,
			VersionMinor: cfg.versionMin,
			ThisZone:     cfg.thisZone,
			SigFigs:      cfg.sigFigs,
			SnapLen:      cfg.snapLen,
			Network:      cfg.network,
		},
		view:   wire.NewView(cfg.byteOrder),
		tsUnit: cfg.resolution,
		log:    cfg.logger,
	}

	if closer, ok := w.(io.Closer); ok {
		writer.closer = closer
	}

	if cfg.bufferSize > 0 {
		writer.buf = bufio.NewWriterSize(w, cfg.bufferSize)
		writer.w = writer.buf
	}

	if err := writer.writeHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Header() FileHeader {
	return w.header
}

// WritePacket 写出一条记录。Timestamp 非零时覆盖 Header 中的时间字段，
// InclLen/OrigLen 为零时取 len(Data)。
func (w *Writer) WritePacket(pkt *Packet) error {
	if pkt == nil {
		return fmt.Errorf("pcap: packet is nil")
	}

	header := pkt.Header
	if !pkt.Timestamp.IsZero() {
		header.SetTimestamp(pkt.Timestamp, w.tsUnit)
	}

	if uint32(len(pkt.Data)) < header.InclLen {
		return fmt.Errorf("pcap: packet data shorter than captured length")
	}
	if header.InclLen == 0 {
		header.InclLen = uint32(len(pkt.Data))
	}
	if header.OrigLen == 0 {
		header.OrigLen = uint32(len(pkt.Data))
	}

	var hdr [packetHeaderLen]byte
	w.view.PutUint32(hdr[0:4], header.TsSec)
	w.view.PutUint32(hdr[4:8], header.TsFrac)
	w.view.PutUint32(hdr[8:12], header.InclLen)
	w.view.PutUint32(hdr[12:16], header.OrigLen)

	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(pkt.Data[:header.InclLen]); err != nil {
		return err
	}
	return nil
}

func (w *Writer) WritePacketData(data []byte, ts time.Time) error {
	return w.WritePacket(&Packet{
		Data:      data,
		Timestamp: ts,
	})
}

// WriteBlock 把任意包块写成一条记录，未知时间戳写为 0。
func (w *Writer) WriteBlock(pkt pcapng.Packet) error {
	ts := pkt.Nanoseconds()
	if ts == pcapng.UnknownTimestamp {
		ts = 0
	}
	var origLen uint32
	switch b := pkt.(type) {
	case *pcapng.EnhancedPacketBlock:
		origLen = b.OriginalLen
	case *pcapng.SimplePacketBlock:
		origLen = b.OriginalLen
	case *pcapng.PacketBlock:
		origLen = b.OriginalLen
	}
	return w.WritePacket(&Packet{
		Header:    PacketHeader{OrigLen: origLen},
		Data:      pkt.Payload(),
		Timestamp: time.Unix(0, ts).UTC(),
	})
}

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

func (w *Writer) writeHeader() error {
	var hdr [4 + fileHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], w.header.MagicNumber)
	w.view.PutUint16(hdr[4:6], w.header.VersionMajor)
	w.view.PutUint16(hdr[6:8], w.header.VersionMinor)
	w.view.PutUint32(hdr[8:12], uint32(w.header.ThisZone))
	w.view.PutUint32(hdr[12:16], w.header.SigFigs)
	w.view.PutUint32(hdr[16:20], w.header.SnapLen)
	w.view.PutUint32(hdr[20:24], w.header.Network)
	_, err := w.w.Write(hdr[:])
	if err == nil {
		w.log.Debugf("pcap: header magic=0x%08x link=%s", w.header.MagicNumber, w.header.LinkType())
	}
	return err
}

func WithSnapLen(snapLen uint32) WriterOption {
	return func(cfg *writerConfig) error {
		if snapLen == 0 {
			return fmt.Errorf("pcap: snap length must be positive")
		}
		cfg.snapLen = snapLen
		return nil
	}
}

func WithLinkType(linkType pcapng.LinkType) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.network = uint32(linkType)
		return nil
	}
}

// WithBuffer 启用带缓冲写入以减少系统调用。
func WithBuffer(size int) WriterOption {
	return func(cfg *writerConfig) error {
		if size <= 0 {
			return fmt.Errorf("pcap: buffer size must be positive")
		}
		cfg.bufferSize = size
		return nil
	}
}

func WithByteOrder(order binary.ByteOrder) WriterOption {
	return func(cfg *writerConfig) error {
		if order != binary.BigEndian && order != binary.LittleEndian {
			return fmt.Errorf("pcap: unsupported byte order")
		}
		cfg.byteOrder = order
		return nil
	}
}

func WithTimestampResolution(resolution time.Duration) WriterOption {
	return func(cfg *writerConfig) error {
		switch resolution {
		case time.Microsecond, time.Nanosecond:
			cfg.resolution = resolution
			return nil
		default:
			return fmt.Errorf("pcap: unsupported timestamp resolution %s", resolution)
		}
	}
}

func WithVersion(major, minor uint16) WriterOption {
	return func(cfg *writerConfig) error {
		if major == 0 {
			return fmt.Errorf("pcap: version major must be positive")
		}
		cfg.versionMaj = major
		cfg.versionMin = minor
		return nil
	}
}

func WithTimeZone(zone int32) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.thisZone = zone
		return nil
	}
}

func WithSigFigs(sig uint32) WriterOption {
	return func(cfg *writerConfig) error {
		cfg.sigFigs = sig
		return nil
	}
}

func WithLogger(l glog.Logger) WriterOption {
	return func(cfg *writerConfig) error {
		if l == nil {
			return fmt.Errorf("pcap: logger is nil")
		}
		cfg.logger = l
		return nil
	}
}
