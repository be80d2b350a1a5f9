package gconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote" // 注册 etcd/consul/firestore/nats 远程配置

	"github.com/sofiworker/gpcap/glog"
)

// remotePollInterval 是远程配置的轮询间隔。
var remotePollInterval = 5 * time.Second

// ErrNothingToWatch 表示既没有读到配置文件也没有远程配置源。
var ErrNothingToWatch = errors.New("gconfig: no config file or remote source to watch")

// Config 封装 viper。
// 优先级: 命令行参数 > 环境变量 > 远程配置 > 配置文件 > 默认值
type Config struct {
	v      *viper.Viper
	opts   *Options
	loaded bool
	mu     sync.RWMutex
}

// DecoderOption 描述 Unmarshal 时 mapstructure 的行为，指针字段为 nil 表示沿用 viper 的默认值。
type DecoderOption struct {
	TagName          string
	WeaklyTypedInput *bool
	ErrorUnused      *bool
	DecodeHooks      []mapstructure.DecodeHookFunc
}

type DecoderOptionFunc func(*DecoderOption)

// Unmarshaler 是变更回调拿到的只读视图。
type Unmarshaler interface {
	Unmarshal(rawVal interface{}, opts ...DecoderOptionFunc) error
}

// Remote 是 viper/remote 支持的远程配置源。
type Remote struct {
	Provider string
	Endpoint string
	Path     string
}

func (r Remote) String() string {
	return r.Provider + " " + r.Endpoint + r.Path
}

// ParseRemote 解析 provider://host:port/path 形式的地址，
// 例如 etcd3://127.0.0.1:2379/config/gpcap.yaml 或 consul://127.0.0.1:8500/gpcap。
func ParseRemote(uri string) (Remote, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Remote{}, fmt.Errorf("gconfig: remote %q: %w", uri, err)
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return Remote{}, fmt.Errorf("gconfig: remote %q is not provider://host/path", uri)
	}
	if !slices.Contains(viper.SupportedRemoteProviders, u.Scheme) {
		return Remote{}, fmt.Errorf("gconfig: remote provider %q not in %v", u.Scheme, viper.SupportedRemoteProviders)
	}

	endpoint := u.Host
	switch u.Scheme {
	case "etcd", "etcd3":
		endpoint = "http://" + u.Host
	case "nats":
		endpoint = "nats://" + u.Host
	}
	return Remote{Provider: u.Scheme, Endpoint: endpoint, Path: u.Path}, nil
}

type Options struct {
	// File 非空时忽略 Name、Type、Paths
	Name  string
	Type  string
	Paths []string
	File  string

	EnvPrefix   string
	EnvReplacer *strings.Replacer

	DecoderOption *DecoderOption
	Remote        *Remote
	Logger        glog.Logger
}

type Option func(*Options)

func WithFile(path string) Option {
	return func(o *Options) {
		o.File = path
	}
}

func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithType 设置配置格式，同时用于远程配置。
func WithType(typ string) Option {
	return func(o *Options) {
		o.Type = typ
	}
}

func WithPaths(paths ...string) Option {
	return func(o *Options) {
		o.Paths = append(o.Paths, paths...)
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(o *Options) {
		o.EnvPrefix = prefix
	}
}

func WithRemote(r Remote) Option {
	return func(o *Options) {
		o.Remote = &r
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithDecoderOptions 修改 New 之后每次 Unmarshal 使用的默认解码选项。
func WithDecoderOptions(opts ...DecoderOptionFunc) Option {
	return func(o *Options) {
		if o.DecoderOption == nil {
			o.DecoderOption = &DecoderOption{}
		}
		for _, opt := range opts {
			opt(o.DecoderOption)
		}
	}
}

func WithTagName(tagName string) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.TagName = tagName
	}
}

func WithWeaklyTypedInput(enabled bool) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.WeaklyTypedInput = &enabled
	}
}

func WithErrorUnused(enabled bool) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.ErrorUnused = &enabled
	}
}

// WithDecodeHooks 追加解码钩子，按顺序组合在默认钩子之后。
func WithDecodeHooks(hooks ...mapstructure.DecodeHookFunc) DecoderOptionFunc {
	return func(opt *DecoderOption) {
		opt.DecodeHooks = append(opt.DecodeHooks, hooks...)
	}
}

// New 创建加载器，配置在第一次 Load 或 Unmarshal 时才读取。
func New(opts ...Option) (*Config, error) {
	options := &Options{
		Name:        "gpcap",
		Type:        "yaml",
		Paths:       defaultPaths(),
		EnvPrefix:   "GPCAP",
		EnvReplacer: strings.NewReplacer(".", "_"),
		// 与 `gpcap config init` 写出的模板使用同一套 yaml 标签
		DecoderOption: &DecoderOption{
			TagName:     "yaml",
			DecodeHooks: DefaultDecodeHooks(),
		},
		Logger: glog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	v := viper.New()
	if options.File != "" {
		v.SetConfigFile(options.File)
	} else {
		v.SetConfigName(options.Name)
		v.SetConfigType(options.Type)
		for _, path := range options.Paths {
			v.AddConfigPath(path)
		}
	}
	v.SetEnvPrefix(options.EnvPrefix)
	v.SetEnvKeyReplacer(options.EnvReplacer)
	v.AutomaticEnv()

	return &Config{v: v, opts: options}, nil
}

func defaultPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, dir+"/gpcap")
	}
	return append(paths, "/etc/gpcap/")
}

// Unmarshal 把配置解码到 target，尚未加载时先调用 Load。
// opts 只作用于本次调用，覆盖 New 时设置的解码选项。
func (c *Config) Unmarshal(target interface{}, opts ...DecoderOptionFunc) error {
	if err := c.Load(); err != nil {
		return err
	}

	final := DecoderOption{}
	if c.opts.DecoderOption != nil {
		final = *c.opts.DecoderOption
		final.DecodeHooks = slices.Clone(final.DecodeHooks)
	}
	for _, opt := range opts {
		opt(&final)
	}
	return c.v.Unmarshal(target, decoderConfig(final))
}

func decoderConfig(opt DecoderOption) viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		if opt.TagName != "" {
			cfg.TagName = opt.TagName
		}
		if opt.WeaklyTypedInput != nil {
			cfg.WeaklyTypedInput = *opt.WeaklyTypedInput
		}
		if opt.ErrorUnused != nil {
			cfg.ErrorUnused = *opt.ErrorUnused
		}
		if len(opt.DecodeHooks) > 0 {
			cfg.DecodeHook = mapstructure.ComposeDecodeHookFunc(opt.DecodeHooks...)
		}
	}
}

func (c *Config) SetDefault(key string, value interface{}) {
	c.v.SetDefault(key, value)
}

// BindPFlag 把命令行参数绑定到配置项，参数被显式设置时优先级最高。
func (c *Config) BindPFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("gconfig: flag for key %q is nil", key)
	}
	return c.v.BindPFlag(key, flag)
}

// ConfigFileUsed 返回配置文件路径，指定了 File 时即使文件不存在也返回该路径。
func (c *Config) ConfigFileUsed() string {
	return c.v.ConfigFileUsed()
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *Config) AllSettings() map[string]interface{} {
	return c.v.AllSettings()
}

// Load 读取配置文件和远程配置，只执行一次。
// 文件不存在不算错误；远程源不可用时记录警告并继续使用本地配置。
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return fmt.Errorf("gconfig: read config: %w", err)
		}
		c.opts.Logger.Debugf("gconfig: no config file (file=%q name=%s.%s paths=%v)",
			c.opts.File, c.opts.Name, c.opts.Type, c.opts.Paths)
	}

	if r := c.opts.Remote; r != nil {
		if err := c.v.AddRemoteProvider(r.Provider, r.Endpoint, r.Path); err != nil {
			return fmt.Errorf("gconfig: remote %s: %w", r, err)
		}
		c.v.SetConfigType(c.opts.Type)
		if err := c.v.ReadRemoteConfig(); err != nil {
			c.opts.Logger.Warnf("gconfig: remote %s unavailable, using local config: %v", r, err)
		}
	}

	c.loaded = true
	return nil
}

// Watch 在本地配置文件或远程配置变化时调用 onChange，ctx 结束后不再回调。
// 本地文件由 fsnotify 监控，远程配置按 remotePollInterval 轮询。
func (c *Config) Watch(ctx context.Context, onChange func(Unmarshaler)) error {
	if onChange == nil {
		return errors.New("gconfig: nil change callback")
	}
	if err := c.Load(); err != nil {
		return err
	}

	watching := false
	if path := c.v.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			c.v.OnConfigChange(func(e fsnotify.Event) {
				if ctx.Err() != nil {
					return
				}
				c.opts.Logger.Infof("gconfig: %s changed (%s)", e.Name, e.Op)
				onChange(c)
			})
			c.v.WatchConfig()
			watching = true
		}
	}
	if c.opts.Remote != nil {
		go c.pollRemote(ctx, onChange)
		watching = true
	}
	if !watching {
		return ErrNothingToWatch
	}
	return nil
}

func (c *Config) pollRemote(ctx context.Context, onChange func(Unmarshaler)) {
	last := fmt.Sprint(c.v.AllSettings())
	ticker := time.NewTicker(remotePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.v.WatchRemoteConfig(); err != nil {
			c.opts.Logger.Warnf("gconfig: poll remote %s: %v", c.opts.Remote, err)
			continue
		}
		// fmt 按键排序输出 map，可直接比较
		if now := fmt.Sprint(c.v.AllSettings()); now != last {
			last = now
			c.opts.Logger.Infof("gconfig: remote %s changed", c.opts.Remote)
			onChange(c)
		}
	}
}
