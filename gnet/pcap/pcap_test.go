package pcap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sofiworker/gpcap/gnet/pcapng"
)

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	writer, err := NewWriter(&buf, WithSnapLen(2048))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	defer writer.Close()

	ts1 := time.Unix(1_700_000_000, 123456000).UTC()
	ts2 := ts1.Add(1500 * time.Microsecond)

	if err := writer.WritePacket(&Packet{
		Data:      []byte{0x01, 0x02, 0x03},
		Timestamp: ts1,
	}); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	if err := writer.WritePacket(&Packet{
		Header: PacketHeader{
			OrigLen: 4,
			InclLen: 4,
		},
		Data:      []byte{0xAA, 0xBB, 0xCC, 0xDD},
		Timestamp: ts2,
	}); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	header := reader.Header()
	if header.SnapLen != 2048 {
		t.Fatalf("unexpected snap length: %d", header.SnapLen)
	}
	if !header.IsLittleEndian() || header.LinkType() != pcapng.LinkTypeEthernet {
		t.Fatalf("unexpected header: %+v", header)
	}

	p1, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if !p1.Timestamp.Equal(ts1) {
		t.Fatalf("unexpected timestamp: got %v want %v", p1.Timestamp, ts1)
	}
	if !bytes.Equal(p1.Data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("unexpected packet data: %x", p1.Data)
	}

	p2, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket second failed: %v", err)
	}
	if !p2.Timestamp.Equal(ts2) {
		t.Fatalf("unexpected timestamp: got %v want %v", p2.Timestamp, ts2)
	}
	if p2.Header.InclLen != 4 || p2.Header.OrigLen != 4 {
		t.Fatalf("unexpected lengths: incl=%d orig=%d", p2.Header.InclLen, p2.Header.OrigLen)
	}
	if !bytes.Equal(p2.Data, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Fatalf("unexpected packet data: %x", p2.Data)
	}

	if _, err := reader.ReadPacket(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestBigEndianWriter(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewWriter(&buf, WithByteOrder(binary.BigEndian), WithTimestampResolution(time.Nanosecond))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ts := time.Unix(1_710_000_000, 987654321).UTC()
	payload := []byte{0x10, 0x20, 0x30, 0x40}
	if err := writer.WritePacket(&Packet{
		Data:      payload,
		Timestamp: ts,
	}); err != nil {
		t.Fatalf("WritePacket failed: %v", err)
	}

	if got := binary.BigEndian.Uint32(buf.Bytes()[0:4]); got != MagicNumberNanoseconds {
		t.Fatalf("unexpected magic 0x%08x", got)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	header := reader.Header()
	if header.IsLittleEndian() {
		t.Fatalf("expected big-endian header")
	}
	if header.TimestampResolution() != time.Nanosecond {
		t.Fatalf("expected nanosecond resolution")
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket failed: %v", err)
	}
	if !packet.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: got %v want %v", packet.Timestamp, ts)
	}
	if !bytes.Equal(packet.Data, payload) {
		t.Fatalf("payload mismatch: %x", packet.Data)
	}
}

// legacyFixture 手工拼出一个文件：魔数、文件头与一条 sec=1 frac=2 的记录。
func legacyFixture(order binary.ByteOrder, nanos bool, payload []byte) []byte {
	var out []byte
	app := order.(binary.AppendByteOrder)
	magic := MagicNumberMicroseconds
	if nanos {
		magic = MagicNumberNanoseconds
	}
	out = app.AppendUint32(out, magic)
	out = app.AppendUint16(out, 2)
	out = app.AppendUint16(out, 4)
	out = app.AppendUint32(out, 0)
	out = app.AppendUint32(out, 0)
	out = app.AppendUint32(out, 65535)
	out = app.AppendUint32(out, uint32(pcapng.LinkTypeBACnetMSTP))

	out = app.AppendUint32(out, 1)
	out = app.AppendUint32(out, 2)
	out = app.AppendUint32(out, uint32(len(payload)))
	out = app.AppendUint32(out, uint32(len(payload)+10))
	return append(out, payload...)
}

func TestLegacyTimestamps(t *testing.T) {
	cases := []struct {
		name  string
		order binary.ByteOrder
		nanos bool
		want  int64
	}{
		{"big endian micro", binary.BigEndian, false, 1_000_002_000},
		{"little endian micro", binary.LittleEndian, false, 1_000_002_000},
		{"big endian nano", binary.BigEndian, true, 1_000_000_002},
		{"little endian nano", binary.LittleEndian, true, 1_000_000_002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := []byte{0xDE, 0xAD, 0xBE}
			reader, err := NewReader(bytes.NewReader(legacyFixture(tc.order, tc.nanos, payload)))
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			if reader.Header().ByteOrder() != tc.order {
				t.Fatalf("unexpected byte order %v", reader.Header().ByteOrder())
			}
			if reader.Header().LinkType() != pcapng.LinkTypeBACnetMSTP {
				t.Fatalf("unexpected link type %d", reader.Header().Network)
			}

			block, err := reader.NextBlock()
			if err != nil {
				t.Fatalf("NextBlock: %v", err)
			}
			pb, ok := block.(*pcapng.PacketBlock)
			if !ok {
				t.Fatalf("expected PacketBlock, got %T", block)
			}
			if pb.Timestamp != tc.want {
				t.Fatalf("timestamp: got %d want %d", pb.Timestamp, tc.want)
			}
			if pb.OriginalLen != 13 || !bytes.Equal(pb.Payload(), payload) {
				t.Fatalf("unexpected record %+v", pb)
			}
			if _, err := reader.NextBlock(); err != io.EOF {
				t.Fatalf("expected EOF, got %v", err)
			}
		})
	}
}

func TestNewReaderAt(t *testing.T) {
	raw := legacyFixture(binary.LittleEndian, true, []byte{1})
	reader, err := NewReaderAt(bytes.NewReader(raw[4:]), binary.LittleEndian, true)
	if err != nil {
		t.Fatalf("NewReaderAt: %v", err)
	}
	if reader.Header().MagicNumber != MagicNumberNanosecondsSwapped {
		t.Fatalf("unexpected magic 0x%08x", reader.Header().MagicNumber)
	}
	pkt, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if pkt.Timestamp.UnixNano() != 1_000_000_002 {
		t.Fatalf("unexpected timestamp %v", pkt.Timestamp)
	}
}

func TestTruncatedLegacyStream(t *testing.T) {
	raw := legacyFixture(binary.BigEndian, false, []byte{1, 2, 3, 4, 5, 6})

	if _, err := NewReader(bytes.NewReader(raw[:2])); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected truncated header, got %v", err)
	}
	if _, err := NewReader(bytes.NewReader(raw[:10])); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected truncated header, got %v", err)
	}

	reader, err := NewReader(bytes.NewReader(raw[:24+9]))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := reader.NextBlock(); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("expected truncated record header, got %v", err)
	}

	reader, err = NewReader(bytes.NewReader(raw[:len(raw)-2]))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := reader.NextBlock(); !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("expected truncated payload, got %v", err)
	}
}

func TestInvalidMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, 24)))
	if !errors.Is(err, ErrInvalidMagicNumber) {
		t.Fatalf("expected invalid magic, got %v", err)
	}
}

func TestWriteBlockFromPcapng(t *testing.T) {
	var buf bytes.Buffer
	writer, err := NewWriter(&buf, WithTimestampResolution(time.Nanosecond), WithBuffer(64))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	epb := &pcapng.EnhancedPacketBlock{Timestamp: 42, OriginalLen: 9, Data: []byte{1, 2}}
	if err := writer.WriteBlock(epb); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := writer.WriteBlock(&pcapng.SimplePacketBlock{OriginalLen: 1, Data: []byte{3}}); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	p1, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if p1.Timestamp.UnixNano() != 42 || p1.OriginalLength() != 9 || p1.CaptureLength() != 2 {
		t.Fatalf("unexpected packet %+v", p1)
	}
	p2, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if p2.Header.TsSec != 0 || p2.Header.TsFrac != 0 {
		t.Fatalf("unknown timestamp should be written as zero: %+v", p2.Header)
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcap")
	writer, closeWriter, err := NewFileWriter(path, WithLinkType(pcapng.LinkTypeRaw))
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := writer.WritePacketData([]byte{0x45}, time.Unix(5, 0)); err != nil {
		t.Fatalf("WritePacketData: %v", err)
	}
	if err := closeWriter(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	reader, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if reader.Header().LinkType() != pcapng.LinkTypeRaw {
		t.Fatalf("unexpected link type %s", reader.Header().LinkType())
	}
	pkt, err := reader.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if pkt.Timestamp.Unix() != 5 || pkt.Data[0] != 0x45 {
		t.Fatalf("unexpected packet %+v", pkt)
	}

	if _, _, err := NewFileWriter(filepath.Join(t.TempDir(), "missing", "out.pcap")); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}
