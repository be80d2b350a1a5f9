package capfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/gpcap/gnet/pcap"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

func readAll(t *testing.T, in Input) []pcapng.Block {
	t.Helper()
	var blocks []pcapng.Block
	for {
		block, err := in.NextBlock()
		if errors.Is(err, io.EOF) {
			return blocks
		}
		if err != nil {
			t.Fatalf("NextBlock failed: %v", err)
		}
		blocks = append(blocks, block)
	}
}

func legacyCapture(t *testing.T, order binary.ByteOrder, res time.Duration, stamps ...time.Time) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcap.NewWriter(&buf, pcap.WithByteOrder(order), pcap.WithTimestampResolution(res))
	require.NoError(t, err)
	for i, ts := range stamps {
		require.NoError(t, w.WritePacketData([]byte{byte(i), 0xAB, 0xCD}, ts))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func TestOpenPCAPNG(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapng.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteSectionHeader("", "", "sniff"))
	id, err := w.WriteInterfaceDescription(pcapng.LinkTypeEthernet, pcapng.ResolutionNanoseconds)
	require.NoError(t, err)
	require.NoError(t, w.WriteEnhancedPacket(id, 1_000_000_007, []byte{1, 2, 3}))

	in, err := Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	assert.Equal(t, FormatPCAPNG, in.Format())
	assert.Equal(t, "pcapng", in.Format().String())

	blocks := readAll(t, in)
	require.Len(t, blocks, 3)
	assert.IsType(t, &pcapng.SectionHeaderBlock{}, blocks[0])
	assert.IsType(t, &pcapng.InterfaceDescriptionBlock{}, blocks[1])
	epb, ok := blocks[2].(*pcapng.EnhancedPacketBlock)
	require.True(t, ok, "expected EnhancedPacketBlock, got %T", blocks[2])
	assert.Equal(t, int64(1_000_000_007), epb.Timestamp)
	assert.Equal(t, []byte{1, 2, 3}, epb.Data)
}

func TestOpenLegacyMagics(t *testing.T) {
	cases := []struct {
		name  string
		order binary.ByteOrder
		res   time.Duration
		magic []byte
		ts    time.Time
		want  int64
	}{
		{"big-endian micro", binary.BigEndian, time.Microsecond, []byte{0xa1, 0xb2, 0xc3, 0xd4}, time.Unix(10, 123456000), 10_123_456_000},
		{"little-endian micro", binary.LittleEndian, time.Microsecond, []byte{0xd4, 0xc3, 0xb2, 0xa1}, time.Unix(10, 123456000), 10_123_456_000},
		{"big-endian nano", binary.BigEndian, time.Nanosecond, []byte{0xa1, 0xb2, 0x3c, 0x4d}, time.Unix(10, 123456789), 10_123_456_789},
		{"little-endian nano", binary.LittleEndian, time.Nanosecond, []byte{0x4d, 0x3c, 0xb2, 0xa1}, time.Unix(10, 123456789), 10_123_456_789},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := legacyCapture(t, tc.order, tc.res, tc.ts)
			require.Equal(t, tc.magic, data[:4])

			in, err := Open(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			assert.Equal(t, FormatPCAP, in.Format())

			blocks := readAll(t, in)
			require.Len(t, blocks, 1)
			pb, ok := blocks[0].(*pcapng.PacketBlock)
			require.True(t, ok, "expected PacketBlock, got %T", blocks[0])
			assert.Equal(t, tc.want, pb.Timestamp)
			assert.Equal(t, []byte{0, 0xAB, 0xCD}, pb.Data)
		})
	}
}

func TestOpenUnrecognized(t *testing.T) {
	known := map[uint32]bool{
		uint32(pcapng.SectionHeaderBlockType): true,
		pcap.MagicNumberMicroseconds:          true,
		pcap.MagicNumberMicrosecondsSwapped:   true,
		pcap.MagicNumberNanoseconds:           true,
		pcap.MagicNumberNanosecondsSwapped:    true,
	}

	rng := rand.New(rand.NewSource(1))
	magics := []uint32{0, 0xFFFFFFFF, 0x0A0D0D0B, 0x1A2B3C4D}
	for len(magics) < 64 {
		magics = append(magics, rng.Uint32())
	}

	for _, magic := range magics {
		if known[magic] {
			continue
		}
		data := binary.BigEndian.AppendUint32(nil, magic)
		data = append(data, make([]byte, 32)...)
		_, err := Open(bytes.NewReader(data))
		if !errors.Is(err, ErrUnrecognizedFormat) {
			t.Fatalf("magic 0x%08x: expected ErrUnrecognizedFormat, got %v", magic, err)
		}
	}

	for _, short := range [][]byte{nil, {0x0A}, {0x0A, 0x0D, 0x0D}} {
		_, err := Open(bytes.NewReader(short))
		assert.ErrorIs(t, err, ErrUnrecognizedFormat)
	}
}

func TestOpenLegacyTruncatedHeader(t *testing.T) {
	data := legacyCapture(t, binary.LittleEndian, time.Microsecond)
	_, err := Open(bytes.NewReader(data[:10]))
	assert.ErrorIs(t, err, pcap.ErrTruncatedHeader)
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.pcap")
	require.NoError(t, os.WriteFile(good, legacyCapture(t, binary.LittleEndian, time.Microsecond, time.Unix(1, 0)), 0o644))
	f, err := OpenFile(good)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	assert.Equal(t, FormatPCAP, f.Format())
	assert.Equal(t, good, f.Name())
	assert.Len(t, readAll(t, f), 1)
	require.NoError(t, f.Close())

	bad := filepath.Join(dir, "bad.bin")
	require.NoError(t, os.WriteFile(bad, []byte("not a capture"), 0o644))
	_, err = OpenFile(bad)
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)

	_, err = OpenFile(filepath.Join(dir, "missing.pcapng"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateAndConvertLegacy(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	stamps := []time.Time{base.Add(1), base.Add(2 * time.Millisecond), base.Add(3 * time.Second)}
	data := legacyCapture(t, binary.BigEndian, time.Nanosecond, stamps...)

	in, err := Open(bytes.NewReader(data))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.pcapng")
	w, err := Create(path, pcapng.WithBuffer(4096))
	require.NoError(t, err)
	n, err := Convert(in, w)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	assert.Equal(t, len(stamps), n)
	require.NoError(t, w.Close())

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, FormatPCAPNG, f.Format())

	blocks := readAll(t, f)
	require.Len(t, blocks, 2+len(stamps))

	shb := blocks[0].(*pcapng.SectionHeaderBlock)
	app, ok := pcapng.OptionString(shb.Options, pcapng.SHBUserAppl)
	assert.True(t, ok)
	assert.Equal(t, Application, app)
	osName, _ := pcapng.OptionString(shb.Options, pcapng.SHBOS)
	assert.Equal(t, runtime.GOOS, osName)

	idb := blocks[1].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, pcapng.LinkTypeEthernet, idb.LinkType)
	assert.Equal(t, uint32(65535), idb.SnapLen)
	assert.Equal(t, pcapng.ResolutionNanoseconds, idb.TimestampResolution())

	for i, ts := range stamps {
		epb, ok := blocks[2+i].(*pcapng.EnhancedPacketBlock)
		require.True(t, ok, "block %d: got %T", 2+i, blocks[2+i])
		assert.Equal(t, uint32(0), epb.InterfaceID)
		assert.Equal(t, ts.UnixNano(), epb.Timestamp)
		assert.Equal(t, []byte{byte(i), 0xAB, 0xCD}, epb.Data)
	}
}

func TestConvertRemapsInterfaces(t *testing.T) {
	var src bytes.Buffer
	sw, err := pcapng.NewWriter(&src, pcapng.WithByteOrder(binary.LittleEndian))
	require.NoError(t, err)
	require.NoError(t, sw.WriteSectionHeader("", "", "src"))
	micro, err := sw.WriteInterfaceDescription(pcapng.LinkTypeEthernet, pcapng.ResolutionMicroseconds, pcapng.WithSnapLen(128))
	require.NoError(t, err)
	nano, err := sw.WriteInterfaceDescription(pcapng.LinkTypeRaw, pcapng.ResolutionNanoseconds)
	require.NoError(t, err)
	require.NoError(t, sw.WriteEnhancedPacket(nano, 5_000_000_001, []byte{0x45}))
	require.NoError(t, sw.WriteEnhancedPacket(micro, 7_000_001_000, []byte{0xFF, 0xEE}))
	require.NoError(t, sw.WriteInterfaceStatistics(nano, 9_000_000_000))
	require.NoError(t, sw.WriteRawBlock(pcapng.NameResolutionBlockType, []byte{0, 0, 0, 0}))

	in, err := Open(bytes.NewReader(src.Bytes()))
	require.NoError(t, err)

	var dst bytes.Buffer
	dw, err := pcapng.NewWriter(&dst)
	require.NoError(t, err)
	require.NoError(t, dw.WriteSectionHeader("", "", "dst"))
	_, err = dw.WriteInterfaceDescription(pcapng.LinkTypeEthernet, pcapng.ResolutionMicroseconds)
	require.NoError(t, err)

	n, err := Convert(in, dw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err := Open(bytes.NewReader(dst.Bytes()))
	require.NoError(t, err)
	blocks := readAll(t, out)
	require.Len(t, blocks, 8)

	first := blocks[2].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, uint32(1), first.ID)
	assert.Equal(t, uint32(128), first.SnapLen)
	second := blocks[3].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, uint32(2), second.ID)
	assert.Equal(t, pcapng.LinkTypeRaw, second.LinkType)
	assert.Equal(t, pcapng.ResolutionNanoseconds, second.TimestampResolution())

	p1 := blocks[4].(*pcapng.EnhancedPacketBlock)
	assert.Equal(t, uint32(2), p1.InterfaceID)
	assert.Equal(t, int64(5_000_000_001), p1.Timestamp)
	p2 := blocks[5].(*pcapng.EnhancedPacketBlock)
	assert.Equal(t, uint32(1), p2.InterfaceID)
	assert.Equal(t, int64(7_000_001_000), p2.Timestamp)

	isb := blocks[6].(*pcapng.InterfaceStatisticsBlock)
	assert.Equal(t, uint32(2), isb.InterfaceID)
	assert.Equal(t, int64(9_000_000_000), isb.Timestamp)
	assert.Equal(t, pcapng.NameResolutionBlockType, blocks[7].BlockType())
}

func TestConvertRequiresSection(t *testing.T) {
	in, err := Open(bytes.NewReader(legacyCapture(t, binary.LittleEndian, time.Microsecond, time.Unix(1, 0))))
	require.NoError(t, err)

	w, err := pcapng.NewWriter(io.Discard)
	require.NoError(t, err)
	_, err = Convert(in, w)
	assert.ErrorIs(t, err, pcapng.ErrNoSection)
}

func TestDetect(t *testing.T) {
	format, err := Detect(legacyCapture(t, binary.BigEndian, time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, FormatPCAP, format)

	format, err = Detect([]byte{0x0A, 0x0D, 0x0D, 0x0A})
	require.NoError(t, err)
	assert.Equal(t, FormatPCAPNG, format)

	_, err = Detect([]byte("GIF89a"))
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)
	_, err = Detect([]byte{0xa1, 0xb2})
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)
	assert.Equal(t, "Format(0)", Format(0).String())
}

func TestConvertWithResolution(t *testing.T) {
	ts := time.Unix(42, 123456789)
	in, err := Open(bytes.NewReader(legacyCapture(t, binary.LittleEndian, time.Nanosecond, ts)))
	require.NoError(t, err)

	var dst bytes.Buffer
	w, err := pcapng.NewWriter(&dst)
	require.NoError(t, err)
	require.NoError(t, w.WriteSectionHeader("", "", ""))
	n, err := Convert(in, w, WithResolution(pcapng.ResolutionMicroseconds))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := Open(bytes.NewReader(dst.Bytes()))
	require.NoError(t, err)
	blocks := readAll(t, out)
	require.Len(t, blocks, 3)
	idb := blocks[1].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, pcapng.ResolutionMicroseconds, idb.TimestampResolution())
	epb := blocks[2].(*pcapng.EnhancedPacketBlock)
	assert.Equal(t, int64(42_123_456_000), epb.Timestamp)
}

func TestInputLinkType(t *testing.T) {
	in, err := Open(bytes.NewReader(legacyCapture(t, binary.LittleEndian, time.Microsecond)))
	require.NoError(t, err)
	lt, ok := in.LinkType(0)
	assert.True(t, ok)
	assert.Equal(t, pcapng.LinkTypeEthernet, lt)
	_, ok = in.LinkType(1)
	assert.False(t, ok)

	var buf bytes.Buffer
	w, err := pcapng.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteSectionHeader("", "", ""))
	_, err = w.WriteInterfaceDescription(pcapng.LinkTypeRaw, pcapng.ResolutionMicroseconds)
	require.NoError(t, err)

	ng, err := Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, ok = ng.LinkType(0)
	assert.False(t, ok, "interface is unknown before its block is read")
	readAll(t, ng)
	lt, ok = ng.LinkType(0)
	assert.True(t, ok)
	assert.Equal(t, pcapng.LinkTypeRaw, lt)
}

func TestConvertLegacyFileKeepsHeader(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "raw.pcap")
	var buf bytes.Buffer
	lw, err := pcap.NewWriter(&buf,
		pcap.WithLinkType(pcapng.LinkTypeRaw),
		pcap.WithSnapLen(128),
		pcap.WithTimestampResolution(time.Nanosecond))
	require.NoError(t, err)
	require.NoError(t, lw.WritePacketData([]byte{0x45, 0, 0, 20}, time.Unix(10, 7)))
	require.NoError(t, lw.Flush())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o644))

	in, err := OpenFile(src)
	require.NoError(t, err)
	defer in.Close()

	var out bytes.Buffer
	w, err := pcapng.NewWriter(&out)
	require.NoError(t, err)
	require.NoError(t, w.WriteSectionHeader("", "", ""))
	n, err := Convert(in, w)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r := pcapng.NewReader(bytes.NewReader(out.Bytes()))
	blocks := readAll(t, ngInput{r})
	require.Len(t, blocks, 3)
	idb := blocks[1].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, pcapng.LinkTypeRaw, idb.LinkType)
	assert.Equal(t, uint32(128), idb.SnapLen)
	assert.Equal(t, pcapng.ResolutionNanoseconds, idb.TimestampResolution())
	assert.Equal(t, int64(10_000_000_007), blocks[2].(*pcapng.EnhancedPacketBlock).Timestamp)
}

func TestConvertMultipleSections(t *testing.T) {
	var src bytes.Buffer
	for _, sec := range []struct {
		order binary.ByteOrder
		link  pcapng.LinkType
		res   uint8
		ts    int64
	}{
		{binary.BigEndian, pcapng.LinkTypeRaw, pcapng.ResolutionNanoseconds, 123_456_789},
		{binary.LittleEndian, pcapng.LinkTypeEthernet, pcapng.ResolutionMicroseconds, 987_654_000},
	} {
		sw, err := pcapng.NewWriter(&src, pcapng.WithByteOrder(sec.order))
		require.NoError(t, err)
		require.NoError(t, sw.WriteSectionHeader("", "", "src"))
		id, err := sw.WriteInterfaceDescription(sec.link, sec.res)
		require.NoError(t, err)
		require.NoError(t, sw.WriteEnhancedPacket(id, sec.ts, []byte{0x45}))
		require.NoError(t, sw.WriteInterfaceStatistics(id, sec.ts))
	}

	in, err := Open(bytes.NewReader(src.Bytes()))
	require.NoError(t, err)
	var dst bytes.Buffer
	dw, err := pcapng.NewWriter(&dst)
	require.NoError(t, err)
	require.NoError(t, dw.WriteSectionHeader("", "", "dst"))
	n, err := Convert(in, dw)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	lt, ok := in.LinkType(0)
	require.True(t, ok)
	assert.Equal(t, pcapng.LinkTypeEthernet, lt, "interface 0 of the last section")

	out, err := Open(bytes.NewReader(dst.Bytes()))
	require.NoError(t, err)
	blocks := readAll(t, out)
	require.Len(t, blocks, 7)

	assert.Equal(t, pcapng.LinkTypeRaw, blocks[1].(*pcapng.InterfaceDescriptionBlock).LinkType)
	p1 := blocks[2].(*pcapng.EnhancedPacketBlock)
	assert.Equal(t, uint32(0), p1.InterfaceID)
	assert.Equal(t, int64(123_456_789), p1.Timestamp)

	idb := blocks[4].(*pcapng.InterfaceDescriptionBlock)
	assert.Equal(t, pcapng.LinkTypeEthernet, idb.LinkType)
	assert.Equal(t, pcapng.ResolutionMicroseconds, idb.TimestampResolution())
	p2 := blocks[5].(*pcapng.EnhancedPacketBlock)
	assert.Equal(t, uint32(1), p2.InterfaceID)
	assert.Equal(t, int64(987_654_000), p2.Timestamp)
	isb := blocks[6].(*pcapng.InterfaceStatisticsBlock)
	assert.Equal(t, uint32(1), isb.InterfaceID)
	assert.Equal(t, int64(987_654_000), isb.Timestamp)
}

func TestConvertChangesByteOrder(t *testing.T) {
	le := binary.LittleEndian
	var src bytes.Buffer
	sw, err := pcapng.NewWriter(&src, pcapng.WithByteOrder(le))
	require.NoError(t, err)
	require.NoError(t, sw.WriteSectionHeader("", "", "src"))
	id, err := sw.WriteInterfaceDescription(pcapng.LinkTypeEthernet, pcapng.ResolutionMicroseconds,
		pcapng.WithInterfaceOption(pcapng.IFName, []byte("eth0")),
		pcapng.WithInterfaceOption(pcapng.IFSpeed, le.AppendUint64(nil, 1_000_000_000)))
	require.NoError(t, err)
	require.NoError(t, sw.WriteEnhancedPacket(id, 1_000, []byte{1, 2, 3},
		pcapng.Option{Code: pcapng.EPBFlags, Value: le.AppendUint32(nil, 1)}))
	require.NoError(t, sw.WriteInterfaceStatistics(id, 2_000,
		pcapng.Option{Code: pcapng.ISBIfRecv, Value: le.AppendUint64(nil, 42)}))
	record := []byte{10, 0, 0, 1, 'a', 'b', 0, 0}
	require.NoError(t, sw.WriteRawBlock(pcapng.NameResolutionBlockType,
		append(append([]byte{1, 0, 7, 0}, record...), 0, 0, 0, 0)))

	in, err := Open(bytes.NewReader(src.Bytes()))
	require.NoError(t, err)
	var dst bytes.Buffer
	dw, err := pcapng.NewWriter(&dst, pcapng.WithByteOrder(binary.BigEndian))
	require.NoError(t, err)
	require.NoError(t, dw.WriteSectionHeader("", "", "dst"))
	_, err = Convert(in, dw)
	require.NoError(t, err)

	out, err := Open(bytes.NewReader(dst.Bytes()))
	require.NoError(t, err)
	blocks := readAll(t, out)
	require.Len(t, blocks, 5)
	be := binary.BigEndian

	idb := blocks[1].(*pcapng.InterfaceDescriptionBlock)
	name, _ := pcapng.OptionString(idb.Options, pcapng.IFName)
	assert.Equal(t, "eth0", name)
	speed, _ := pcapng.OptionString(idb.Options, pcapng.IFSpeed)
	assert.Equal(t, uint64(1_000_000_000), be.Uint64([]byte(speed)))

	epb := blocks[2].(*pcapng.EnhancedPacketBlock)
	flags, _ := pcapng.OptionString(epb.Options, pcapng.EPBFlags)
	if got := be.Uint32([]byte(flags)); got != 1 {
		t.Fatalf("epb_flags = %d after byte order change", got)
	}
	isb := blocks[3].(*pcapng.InterfaceStatisticsBlock)
	recv, _ := pcapng.OptionString(isb.Options, pcapng.ISBIfRecv)
	assert.Equal(t, uint64(42), be.Uint64([]byte(recv)))

	nrb := blocks[4].(*pcapng.OtherBlock)
	assert.Equal(t, append(append([]byte{0, 1, 0, 7}, record...), 0, 0, 0, 0), nrb.Body)
}

func TestConvertRefusesOpaqueBlockAcrossByteOrders(t *testing.T) {
	var src bytes.Buffer
	sw, err := pcapng.NewWriter(&src, pcapng.WithByteOrder(binary.LittleEndian))
	require.NoError(t, err)
	require.NoError(t, sw.WriteSectionHeader("", "", "src"))
	require.NoError(t, sw.WriteRawBlock(pcapng.CustomCopyBlockType, []byte{1, 2, 3, 4}))

	convert := func(order binary.ByteOrder) error {
		in, err := Open(bytes.NewReader(src.Bytes()))
		require.NoError(t, err)
		dw, err := pcapng.NewWriter(io.Discard, pcapng.WithByteOrder(order))
		require.NoError(t, err)
		require.NoError(t, dw.WriteSectionHeader("", "", ""))
		_, err = Convert(in, dw)
		return err
	}
	assert.ErrorIs(t, convert(binary.BigEndian), pcapng.ErrByteOrderMismatch)
	assert.NoError(t, convert(binary.LittleEndian))
}

func TestConvertStopsOnCancel(t *testing.T) {
	in, err := Open(bytes.NewReader(legacyCapture(t, binary.LittleEndian, time.Microsecond, time.Unix(1, 0))))
	require.NoError(t, err)
	w, err := pcapng.NewWriter(io.Discard)
	require.NoError(t, err)
	require.NoError(t, w.WriteSectionHeader("", "", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Convert(in, w, WithContext(ctx))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
