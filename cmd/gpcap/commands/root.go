// Package commands 实现 gpcap 命令行工具。
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sofiworker/gpcap/gconfig"
	"github.com/sofiworker/gpcap/glog"
)

// app 保存一次命令执行期间共享的全局参数和已加载的配置。
type app struct {
	cfgFile string
	remote  string
	watch   bool
	cfg     Config
	// stop 结束 --watch 启动的监控
	stop context.CancelFunc
}

// NewRootCommand 构建完整的命令树，每次调用返回互不影响的新实例。
func NewRootCommand() *cobra.Command {
	a := &app{cfg: DefaultConfig()}

	root := &cobra.Command{
		Use:   "gpcap",
		Short: "Inspect, convert and filter pcap and pcapng captures",
		Long: `gpcap reads classic pcap and pcapng capture files.

It can list every block of a capture, summarize it, convert any
capture to pcapng and copy the packets accepted by a BPF program.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.stop != nil {
				a.stop()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: gpcap.yaml in ., $XDG_CONFIG_HOME/gpcap or /etc/gpcap)")
	flags.String("log-level", glog.InfoLevel.String(), "log level (debug, info, warn, error)")
	flags.StringVar(&a.remote, "remote", "", "remote config source, e.g. etcd3://127.0.0.1:2379/config/gpcap.yaml")
	flags.BoolVar(&a.watch, "watch", false, "re-apply log.level when the config file or remote source changes")

	root.AddCommand(
		a.dumpCommand(),
		a.statsCommand(),
		a.convertCommand(),
		a.filterCommand(),
		a.configCommand(),
	)
	return root
}

// ExecuteContext 运行命令树，ctx 结束时停止配置监控和正在进行的转换。
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// init 加载配置并据此重新配置全局日志。
// 优先级: 命令行参数 > 环境变量 (GPCAP_*) > 远程配置 > 配置文件 > 默认值
func (a *app) init(cmd *cobra.Command) error {
	var opts []gconfig.Option
	if a.cfgFile != "" {
		opts = append(opts, gconfig.WithFile(a.cfgFile))
	}
	if a.remote != "" {
		remote, err := gconfig.ParseRemote(a.remote)
		if err != nil {
			return err
		}
		opts = append(opts, gconfig.WithRemote(remote))
	}
	loader, err := gconfig.New(opts...)
	if err != nil {
		return err
	}
	if err := setDefaults(loader, DefaultConfig()); err != nil {
		return err
	}
	if err := loader.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	if err := loader.Load(); err != nil {
		return err
	}
	// 默认值已全部注册到 loader，解码到零值以免接口字段沿用旧值
	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return err
	}
	a.cfg = cfg

	if err := glog.Configure(a.cfg.Log.options()...); err != nil {
		return err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		glog.Debugf("gpcap: using config file %s", used)
	}
	if !a.watch {
		return nil
	}

	ctx, stop := context.WithCancel(cmd.Context())
	if err := loader.Watch(ctx, a.reload); err != nil {
		stop()
		if errors.Is(err, gconfig.ErrNothingToWatch) {
			return fmt.Errorf("--watch: %w", err)
		}
		return err
	}
	a.stop = stop
	return nil
}

// reload 在配置变化后重新应用日志级别，其余配置只在启动时生效。
func (a *app) reload(c gconfig.Unmarshaler) {
	var cfg Config
	if err := c.Unmarshal(&cfg); err != nil {
		glog.Warnf("gpcap: ignoring config change: %v", err)
		return
	}
	if cfg.Log.Level == glog.CurrentLevel() {
		return
	}
	glog.SetLevel(cfg.Log.Level)
	glog.Info("gpcap: log level changed", "level", cfg.Log.Level.String())
}
