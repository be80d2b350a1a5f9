package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/spf13/cobra"

	"github.com/sofiworker/gpcap/gnet/capfile"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

type dumpOptions struct {
	decode  bool
	payload bool
	limit   int
}

func (a *app) dumpCommand() *cobra.Command {
	var opts dumpOptions
	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "List every block of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := capfile.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return dump(cmd.OutOrStdout(), f, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.decode, "decode", "d", false, "decode packet layers with gopacket")
	cmd.Flags().BoolVar(&opts.payload, "payload", true, "print packet payloads as hex")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "stop after this many blocks (0 means all)")
	return cmd
}

func dump(w io.Writer, in capfile.Input, opts dumpOptions) error {
	for i := 0; opts.limit <= 0 || i < opts.limit; i++ {
		block, err := in.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("block #%d: %w", i, err)
		}
		fmt.Fprintf(w, "#%d %s %s\n", i, block.BlockType(), describe(block))
		for _, opt := range block.BlockOptions() {
			fmt.Fprintf(w, "    %s\n", renderOption(block.BlockType(), opt))
		}

		pkt, ok := block.(pcapng.Packet)
		if !ok {
			continue
		}
		if opts.decode {
			if lt, known := in.LinkType(pkt.Interface()); known {
				fmt.Fprintf(w, "    layers: %s\n", summarize(lt, pkt.Payload()))
			}
		}
		if opts.payload && len(pkt.Payload()) > 0 {
			fmt.Fprint(w, indent(hex.Dump(pkt.Payload()), "    "))
		}
	}
	return nil
}

func describe(block pcapng.Block) string {
	switch b := block.(type) {
	case *pcapng.SectionHeaderBlock:
		order := "little-endian"
		if b.IsBigEndian() {
			order = "big-endian"
		}
		return fmt.Sprintf("v%d.%d %s length=%d", b.MajorVersion, b.MinorVersion, order, b.SectionLength)
	case *pcapng.InterfaceDescriptionBlock:
		return fmt.Sprintf("id=%d link=%s snaplen=%d tsresol=%d", b.ID, b.LinkType, b.SnapLen, b.TimestampResolution())
	case *pcapng.EnhancedPacketBlock:
		return fmt.Sprintf("if=%d ts=%s caplen=%d origlen=%d", b.InterfaceID, formatTimestamp(b.Timestamp), b.CapturedLen, b.OriginalLen)
	case *pcapng.SimplePacketBlock:
		return fmt.Sprintf("origlen=%d caplen=%d", b.OriginalLen, len(b.Data))
	case *pcapng.PacketBlock:
		return fmt.Sprintf("ts=%s caplen=%d origlen=%d", formatTimestamp(b.Timestamp), len(b.Data), b.OriginalLen)
	case *pcapng.InterfaceStatisticsBlock:
		return fmt.Sprintf("if=%d ts=%s", b.InterfaceID, formatTimestamp(b.Timestamp))
	case *pcapng.OtherBlock:
		return fmt.Sprintf("type=0x%08x body=%d bytes", uint32(b.Type), len(b.Body))
	default:
		return ""
	}
}

func formatTimestamp(ns int64) string {
	if ns == pcapng.UnknownTimestamp {
		return "-"
	}
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

// renderOption 按选项表决定以文本还是十六进制显示值。
func renderOption(bt pcapng.BlockType, opt pcapng.Option) string {
	info, ok := pcapng.LookupOption(bt, opt.Code)
	if !ok {
		return fmt.Sprintf("opt_%d: %s", opt.Code, hex.EncodeToString(opt.Value))
	}
	if info.ASCII {
		return fmt.Sprintf("%s: %s", info.Name, opt.Value)
	}
	return fmt.Sprintf("%s: %s", info.Name, hex.EncodeToString(opt.Value))
}

// summarize 返回形如 "Ethernet/IPv4/UDP" 的层摘要。
func summarize(lt pcapng.LinkType, data []byte) string {
	decoder, ok := lt.Decoder()
	if !ok {
		return fmt.Sprintf("no decoder for %s", lt)
	}
	packet := gopacket.NewPacket(data, decoder, gopacket.NoCopy)
	var names []string
	for _, layer := range packet.Layers() {
		names = append(names, layer.LayerType().String())
	}
	summary := strings.Join(names, "/")
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		summary += fmt.Sprintf(" (%v)", errLayer.Error())
	}
	return summary
}

func indent(text, prefix string) string {
	lines := strings.SplitAfter(strings.TrimRight(text, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(prefix)
		b.WriteString(line)
	}
	b.WriteString("\n")
	return b.String()
}
