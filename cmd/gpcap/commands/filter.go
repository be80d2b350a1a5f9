package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/bpf"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/capfile"
	"github.com/sofiworker/gpcap/gnet/pcap"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

// ParseBPF 解析 `tcpdump -ddd` 风格的原始 BPF 程序：
// 每条指令为 "code jt jf k"，以分号或换行分隔；
// 若第一项只有一个数字，则视为指令条数并做校验。
func ParseBPF(text string) ([]bpf.Instruction, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == ';' || r == '\n' })

	var entries [][]string
	for _, f := range fields {
		if parts := strings.Fields(f); len(parts) > 0 {
			entries = append(entries, parts)
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("bpf: empty program")
	}

	expected := -1
	if len(entries[0]) == 1 {
		n, err := strconv.Atoi(entries[0][0])
		if err != nil {
			return nil, fmt.Errorf("bpf: invalid instruction count %q", entries[0][0])
		}
		expected, entries = n, entries[1:]
	}
	if expected >= 0 && expected != len(entries) {
		return nil, fmt.Errorf("bpf: program declares %d instructions but has %d", expected, len(entries))
	}

	raw := make([]bpf.RawInstruction, 0, len(entries))
	for i, parts := range entries {
		if len(parts) != 4 {
			return nil, fmt.Errorf("bpf: instruction %d: want \"code jt jf k\", got %q", i, strings.Join(parts, " "))
		}
		var vals [4]uint64
		for j, bits := range [4]int{16, 8, 8, 32} {
			v, err := strconv.ParseUint(parts[j], 0, bits)
			if err != nil {
				return nil, fmt.Errorf("bpf: instruction %d: %w", i, err)
			}
			vals[j] = v
		}
		raw = append(raw, bpf.RawInstruction{
			Op: uint16(vals[0]),
			Jt: uint8(vals[1]),
			Jf: uint8(vals[2]),
			K:  uint32(vals[3]),
		})
	}

	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("bpf: program contains undecodable instructions")
	}
	return prog, nil
}

func (a *app) filterCommand() *cobra.Command {
	var program string
	cmd := &cobra.Command{
		Use:   "filter IN OUT",
		Short: "Copy the packets accepted by a raw BPF program",
		Long: `Copy the packets of IN accepted by a BPF program to OUT.

The program is given in the raw form printed by "tcpdump -ddd", with
instructions separated by ';' or newlines. The output keeps the
format of the input.`,
		Example: `  gpcap filter in.pcapng out.pcapng --bpf "$(tcpdump -ddd -y EN10MB udp | tr '\n' ';')"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := ParseBPF(program)
			if err != nil {
				return err
			}
			glog.Debugf("gpcap: bpf program %v", prog)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in := bufio.NewReader(f)
			head, err := in.Peek(4)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			format, err := capfile.Detect(head)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			kept, err := filterInto(out, in, format, prog)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				// 不留下写了一半的输出文件
				_ = os.Remove(args[1])
				return fmt.Errorf("filter %s: %w", args[0], err)
			}

			glog.InfoContext(cmd.Context(), "gpcap: filtered capture",
				"in", args[0], "out", args[1], "format", format.String(), "kept", kept)
			fmt.Fprintf(cmd.OutOrStdout(), "%d packets kept\n", kept)
			return nil
		},
	}
	cmd.Flags().StringVar(&program, "bpf", "", "raw BPF program: \"code jt jf k;...\"")
	_ = cmd.MarkFlagRequired("bpf")
	return cmd
}

// filterInto 把 in 中被 prog 接受的包按原格式写入 out。
func filterInto(out io.Writer, in io.Reader, format capfile.Format, prog []bpf.Instruction) (int, error) {
	bw := bufio.NewWriter(out)
	var (
		kept int
		err  error
	)
	switch format {
	case capfile.FormatPCAPNG:
		kept, err = pcapng.FilterCopy(in, bw, prog)
	default:
		kept, err = pcap.FilterCopy(in, bw, prog)
	}
	if err != nil {
		return kept, err
	}
	return kept, bw.Flush()
}
