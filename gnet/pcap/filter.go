package pcap

import (
	"errors"
	"io"

	"golang.org/x/net/bpf"
)

// FilterCopy 读取 r 中的 pcap，按 BPF 过滤后写入 w（pcap），返回通过包数。
// 输出沿用输入的字节序、时间精度、链路类型与快照长度。
func FilterCopy(r io.Reader, w io.Writer, prog []bpf.Instruction) (int, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return 0, err
	}

	reader, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	hdr := reader.Header()
	opts := []WriterOption{
		WithLinkType(hdr.LinkType()),
		WithByteOrder(hdr.ByteOrder()),
		WithTimestampResolution(hdr.TimestampResolution()),
	}
	if hdr.SnapLen > 0 {
		opts = append(opts, WithSnapLen(hdr.SnapLen))
	}
	writer, err := NewWriter(w, opts...)
	if err != nil {
		return 0, err
	}
	defer writer.Flush()

	count := 0
	for {
		pkt, err := reader.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, err
		}
		keep, err := vm.Run(pkt.Data)
		if err != nil {
			return count, err
		}
		if keep == 0 {
			continue
		}
		if err := writer.WritePacket(pkt); err != nil {
			return count, err
		}
		count++
	}
}
