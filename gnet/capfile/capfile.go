// Package capfile 根据前 4 字节魔数选择 pcap 或 pcapng 读取器，并提供文件级的打开、创建与转换。
package capfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/pcap"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

var ErrUnrecognizedFormat = errors.New("capfile: unrecognized capture format")

// Application 是 Create 写入 shb_userappl 的应用名。
const Application = "gpcap"

type Format int

const (
	FormatPCAPNG Format = iota + 1
	FormatPCAP
)

func (f Format) String() string {
	switch f {
	case FormatPCAPNG:
		return "pcapng"
	case FormatPCAP:
		return "pcap"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Input 是两种读取器的公共视图，NextBlock 在流结束时返回 io.EOF。
// LinkType 按包块中的接口编号（当前节内计数）返回链路类型，pcap 只有接口 0。
type Input interface {
	NextBlock() (pcapng.Block, error)
	Format() Format
	LinkType(iface uint32) (pcapng.LinkType, bool)
}

type ngInput struct {
	*pcapng.Reader
}

func (ngInput) Format() Format { return FormatPCAPNG }

func (in ngInput) LinkType(iface uint32) (pcapng.LinkType, bool) {
	idb, _, ok := in.SectionInterface(iface)
	if !ok {
		return 0, false
	}
	return idb.LinkType, true
}

type legacyInput struct {
	*pcap.Reader
}

func (legacyInput) Format() Format { return FormatPCAP }

func (in legacyInput) LinkType(iface uint32) (pcapng.LinkType, bool) {
	if iface != 0 {
		return 0, false
	}
	hdr := in.Header()
	return hdr.LinkType(), true
}

type Option func(*options)

type options struct {
	logger glog.Logger
}

func WithLogger(l glog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// magic 是从前 4 字节识别出的格式信息。
type magic struct {
	format Format
	order  binary.ByteOrder
	nanos  bool
}

func sniff(b [4]byte) (magic, error) {
	be := binary.BigEndian.Uint32(b[:])
	le := binary.LittleEndian.Uint32(b[:])
	switch {
	case pcapng.BlockType(be) == pcapng.SectionHeaderBlockType:
		return magic{format: FormatPCAPNG}, nil
	case be == pcap.MagicNumberMicroseconds || be == pcap.MagicNumberNanoseconds:
		return magic{FormatPCAP, binary.BigEndian, be == pcap.MagicNumberNanoseconds}, nil
	case le == pcap.MagicNumberMicroseconds || le == pcap.MagicNumberNanoseconds:
		return magic{FormatPCAP, binary.LittleEndian, le == pcap.MagicNumberNanoseconds}, nil
	default:
		return magic{}, fmt.Errorf("%w: magic 0x%08x", ErrUnrecognizedFormat, be)
	}
}

func readMagic(r io.Reader) (magic, error) {
	var b [4]byte
	if n, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return magic{}, fmt.Errorf("%w: only %d bytes available", ErrUnrecognizedFormat, n)
		}
		return magic{}, err
	}
	return sniff(b)
}

// Detect 根据开头的字节识别格式，不足 4 字节时无法识别。
func Detect(head []byte) (Format, error) {
	if len(head) < 4 {
		return 0, fmt.Errorf("%w: only %d bytes available", ErrUnrecognizedFormat, len(head))
	}
	m, err := sniff([4]byte(head[:4]))
	if err != nil {
		return 0, err
	}
	return m.format, nil
}

// Open 读取 4 字节魔数并返回对应的 Input，r 随后由返回的读取器独占。
func Open(r io.Reader, opts ...Option) (Input, error) {
	o := options{logger: glog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := readMagic(r)
	if err != nil {
		return nil, err
	}
	if m.format == FormatPCAPNG {
		o.logger.Debugf("capfile: detected pcapng")
		return ngInput{pcapng.NewReaderAt(r, pcapng.WithReaderLogger(o.logger))}, nil
	}

	o.logger.Debugf("capfile: detected pcap order=%s nanos=%t", m.order, m.nanos)
	reader, err := pcap.NewReaderAt(r, m.order, m.nanos, pcap.WithReaderLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return legacyInput{reader}, nil
}

// File 是绑定到磁盘文件的 Input，使用完毕后必须 Close。
type File struct {
	Input
	f *os.File
}

// OpenFile 打开并识别文件格式，任何错误路径上文件都会被关闭。
func OpenFile(path string, opts ...Option) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	in, err := Open(bufio.NewReader(f), opts...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Input: in, f: f}, nil
}

func (f *File) Name() string {
	return f.f.Name()
}

func (f *File) Close() error {
	return f.f.Close()
}

// Create 新建 pcapng 文件并写出 SectionHeaderBlock，
// 硬件与操作系统取自运行时，应用名为 Application。
// 返回的 Writer 在 Close 时同时关闭文件。
func Create(path string, opts ...pcapng.WriterOption) (*pcapng.Writer, error) {
	return CreateSection(path, runtime.GOARCH, runtime.GOOS, Application, opts...)
}

// CreateSection 与 Create 相同，但由调用方给出节头的描述字段，空字符串表示省略。
func CreateSection(path, hardware, osName, application string, opts ...pcapng.WriterOption) (*pcapng.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := pcapng.NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.WriteSectionHeader(hardware, osName, application); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}
