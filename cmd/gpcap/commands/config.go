package commands

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sofiworker/gpcap/gconfig"
	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/capfile"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

// Config 是 gpcap 的配置文件结构。
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Writer WriterConfig `yaml:"writer"`
}

type LogConfig struct {
	Level    glog.Level          `yaml:"level"`
	Encoding glog.Encoding       `yaml:"encoding"`
	Files    []string            `yaml:"files"`
	Rotation glog.RotationConfig `yaml:"rotation"`
}

// WriterConfig 控制 convert 生成的 pcapng 文件。
type WriterConfig struct {
	ByteOrder   binary.ByteOrder `yaml:"byte_order"`
	Buffer      int              `yaml:"buffer"`
	Hardware    string           `yaml:"hardware"`
	OS          string           `yaml:"os"`
	Application string           `yaml:"application"`
	// Resolution 为 0 时保留输入的时间戳分辨率。
	Resolution uint8 `yaml:"resolution"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:    glog.InfoLevel,
			Encoding: glog.ConsoleEncoding,
			Files:    []string{},
			Rotation: glog.RotationConfig{
				MaxSize:    100,
				MaxAge:     30,
				MaxBackups: 7,
				LocalTime:  true,
				Compress:   true,
			},
		},
		Writer: WriterConfig{
			ByteOrder:   binary.BigEndian,
			Buffer:      64 * 1024,
			Hardware:    runtime.GOARCH,
			OS:          runtime.GOOS,
			Application: capfile.Application,
		},
	}
}

// MarshalYAML 把字节序写成 gconfig.ParseByteOrder 能识别的名字。
func (w WriterConfig) MarshalYAML() (interface{}, error) {
	order := "big"
	if w.ByteOrder == binary.LittleEndian {
		order = "little"
	}
	return struct {
		ByteOrder   string `yaml:"byte_order"`
		Buffer      int    `yaml:"buffer"`
		Hardware    string `yaml:"hardware"`
		OS          string `yaml:"os"`
		Application string `yaml:"application"`
		Resolution  uint8  `yaml:"resolution"`
	}{order, w.Buffer, w.Hardware, w.OS, w.Application, w.Resolution}, nil
}

func (w WriterConfig) options() []pcapng.WriterOption {
	var opts []pcapng.WriterOption
	if w.ByteOrder != nil {
		opts = append(opts, pcapng.WithByteOrder(w.ByteOrder))
	}
	if w.Buffer > 0 {
		opts = append(opts, pcapng.WithBuffer(w.Buffer))
	}
	return append(opts, pcapng.WithLogger(glog.Default()))
}

func (l LogConfig) options() []glog.Option {
	opts := []glog.Option{
		glog.WithLevel(l.Level),
		glog.WithEncoding(l.Encoding),
		glog.WithOutputPaths(l.Files...),
		glog.WithConsole(len(l.Files) == 0),
	}
	if len(l.Files) > 0 {
		r := l.Rotation
		opts = append(opts, glog.WithRotation(r.MaxSize, r.MaxAge, r.MaxBackups, r.Compress, r.LocalTime))
	}
	return opts
}

// setDefaults 把默认配置按点分键注册到 loader，使环境变量能覆盖任意字段。
func setDefaults(loader *gconfig.Config, defaults Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	flatten("", tree, loader.SetDefault)
	return nil
}

func flatten(prefix string, tree map[string]interface{}, set func(string, interface{})) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]interface{}); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, value)
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the gpcap configuration file",
	}

	var (
		out   string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return writeYAML(cmd.OutOrStdout(), DefaultConfig())
			}
			flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(out, flag, 0o644)
			if err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%s already exists, use --force to overwrite", out)
				}
				return err
			}
			if err := writeYAML(f, DefaultConfig()); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			glog.Infof("gpcap: wrote config template to %s", out)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeYAML(cmd.OutOrStdout(), a.cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
