package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/capfile"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

func (a *app) convertCommand() *cobra.Command {
	var resolution uint8
	cmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Convert a pcap or pcapng capture to pcapng",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wc := a.cfg.Writer
			if cmd.Flags().Changed("resolution") {
				wc.Resolution = resolution
			}

			in, err := capfile.OpenFile(args[0], capfile.WithLogger(glog.Default()))
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := capfile.CreateSection(args[1], wc.Hardware, wc.OS, wc.Application, wc.options()...)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			n, err := capfile.Convert(in, out,
				capfile.WithResolution(wc.Resolution),
				capfile.WithContext(ctx),
				capfile.WithConvertLogger(glog.Default()))
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(args[1])
				if errors.Is(err, pcapng.ErrByteOrderMismatch) {
					return fmt.Errorf("convert %s: %w (set writer.byte_order to match the input)", args[0], err)
				}
				return fmt.Errorf("convert %s: %w", args[0], err)
			}

			glog.InfoContext(ctx, "gpcap: converted capture",
				"in", args[0], "format", in.Format().String(), "out", args[1], "packets", n)
			fmt.Fprintf(cmd.OutOrStdout(), "%s packets written to %s\n", humanize.Comma(int64(n)), args[1])
			return nil
		},
	}
	cmd.Flags().Uint8Var(&resolution, "resolution", 0, "timestamp resolution exponent for every interface, 6 or 9 (0 keeps the input's)")
	return cmd
}
