package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sofiworker/gpcap/gnet/capfile"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

// captureStats 汇总一个捕获文件中各类块的数量和字节数。
type captureStats struct {
	format     capfile.Format
	order      []pcapng.BlockType
	counts     map[pcapng.BlockType]int
	bytes      map[pcapng.BlockType]uint64
	packets    int
	interfaces int
	first      int64
	last       int64
}

func collectStats(in capfile.Input) (*captureStats, error) {
	st := &captureStats{
		format: in.Format(),
		counts: make(map[pcapng.BlockType]int),
		bytes:  make(map[pcapng.BlockType]uint64),
		first:  pcapng.UnknownTimestamp,
		last:   pcapng.UnknownTimestamp,
	}
	for {
		block, err := in.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			return st, err
		}
		st.add(block)
	}
}

func (st *captureStats) add(block pcapng.Block) {
	typ := block.BlockType()
	if _, seen := st.counts[typ]; !seen {
		st.order = append(st.order, typ)
	}
	st.counts[typ]++

	switch b := block.(type) {
	case pcapng.Packet:
		st.packets++
		st.bytes[typ] += uint64(len(b.Payload()))
		if ts := b.Nanoseconds(); ts != pcapng.UnknownTimestamp {
			if st.first == pcapng.UnknownTimestamp || ts < st.first {
				st.first = ts
			}
			if st.last == pcapng.UnknownTimestamp || ts > st.last {
				st.last = ts
			}
		}
	case *pcapng.InterfaceDescriptionBlock:
		st.interfaces++
	case *pcapng.OtherBlock:
		st.bytes[typ] += uint64(len(b.Body))
	}
}

func (st *captureStats) totalBytes() uint64 {
	var total uint64
	for _, n := range st.bytes {
		total += n
	}
	return total
}

func (st *captureStats) render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Block", "Count", "Bytes"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, typ := range st.order {
		size := "-"
		if n, ok := st.bytes[typ]; ok {
			size = humanize.IBytes(n)
		}
		table.Append([]string{typ.String(), humanize.Comma(int64(st.counts[typ])), size})
	}
	table.Render()

	summary := tablewriter.NewWriter(w)
	summary.SetAutoWrapText(false)
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	summary.SetBorder(false)
	summary.SetColumnSeparator("")
	summary.SetCenterSeparator("")
	summary.SetRowSeparator("")
	summary.Append([]string{"Format", st.format.String()})
	summary.Append([]string{"Interfaces", humanize.Comma(int64(st.interfaces))})
	summary.Append([]string{"Packets", humanize.Comma(int64(st.packets))})
	summary.Append([]string{"Captured", humanize.IBytes(st.totalBytes())})
	if st.first != pcapng.UnknownTimestamp {
		summary.Append([]string{"First", formatTimestamp(st.first)})
		summary.Append([]string{"Last", formatTimestamp(st.last)})
		summary.Append([]string{"Duration", time.Duration(st.last - st.first).String()})
	}
	summary.Render()
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats FILE",
		Short: "Summarize the blocks and packets of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := capfile.OpenFile(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := collectStats(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			st.render(cmd.OutOrStdout())
			return nil
		},
	}
}
