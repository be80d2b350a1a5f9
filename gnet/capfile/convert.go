package capfile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sofiworker/gpcap/glog"
	"github.com/sofiworker/gpcap/gnet/pcapng"
)

// Convert 把 in 中的所有块复制到 w，返回写出的包数。
// w 必须已写出 SectionHeaderBlock；输入中的 SectionHeaderBlock 被跳过，
// 多节输入被合并为 w 的单一节，
// 接口编号按写出顺序重新分配，并保留原有的时间戳分辨率。
// 增强包的原始长度不被保留，写出时等于捕获长度。
//
// 输入节与 w 的字节序不同时，已知的数值选项和名称解析块被转换，
// 无法转换的不透明块使 Convert 以 pcapng.ErrByteOrderMismatch 失败。
func Convert(in Input, w *pcapng.Writer, opts ...ConvertOption) (int, error) {
	c := converter{
		ctx: context.Background(),
		log: glog.Default(),
		in:  in,
		w:   w,
		ids: make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(&c)
	}
	for {
		if err := c.ctx.Err(); err != nil {
			return c.packets, err
		}
		block, err := in.NextBlock()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.DebugContext(c.ctx, "capfile: conversion finished",
					"packets", c.packets, "interfaces", len(c.ids))
				return c.packets, w.Flush()
			}
			return c.packets, err
		}
		if err := c.copy(block); err != nil {
			return c.packets, err
		}
	}
}

type ConvertOption func(*converter)

// WithResolution 让所有输出接口使用同一时间戳分辨率（10 的负幂），
// 比输入更粗时时间戳被截断。0 表示保留输入的分辨率。
func WithResolution(res uint8) ConvertOption {
	return func(c *converter) {
		c.res = res
	}
}

// WithContext 使 Convert 在每个块之前检查 ctx，取消后返回 ctx.Err()。
func WithContext(ctx context.Context) ConvertOption {
	return func(c *converter) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

func WithConvertLogger(l glog.GLogger) ConvertOption {
	return func(c *converter) {
		if l != nil {
			c.log = l
		}
	}
}

type converter struct {
	ctx context.Context
	log glog.GLogger
	in  Input
	w   *pcapng.Writer
	res uint8

	// ids 以输入接口的全局编号（IDB.ID）为键，base 是当前节第一个接口的全局编号。
	ids    map[uint32]uint32
	base   uint32
	seen   uint32
	order  binary.ByteOrder
	legacy *uint32

	packets int
}

func (c *converter) resolution(in uint8) uint8 {
	if c.res != 0 {
		return c.res
	}
	return in
}

// swapped 报告当前输入节与输出的字节序是否不同。
func (c *converter) swapped() bool {
	return c.order != nil && c.order != c.w.ByteOrder()
}

func (c *converter) options(block pcapng.BlockType, opts []pcapng.Option) []pcapng.Option {
	if c.swapped() {
		return pcapng.SwapOptions(block, opts)
	}
	return opts
}

func (c *converter) copy(block pcapng.Block) error {
	switch b := block.(type) {
	case *pcapng.SectionHeaderBlock:
		c.base = c.seen
		c.order = b.ByteOrder
		c.log.DebugContext(c.ctx, "capfile: input section",
			"big_endian", b.IsBigEndian(), "swap", c.swapped())
		return nil
	case *pcapng.InterfaceDescriptionBlock:
		c.seen = b.ID + 1
		opts := []pcapng.InterfaceOption{pcapng.WithSnapLen(b.SnapLen)}
		for _, opt := range c.options(pcapng.InterfaceDescriptionBlockType, b.Options) {
			if opt.Code == pcapng.IFTsResol {
				continue
			}
			opts = append(opts, pcapng.WithInterfaceOption(opt.Code, opt.Value))
		}
		id, err := c.w.WriteInterfaceDescription(b.LinkType, c.resolution(b.TimestampResolution()), opts...)
		if err != nil {
			return err
		}
		c.ids[b.ID] = id
		return nil
	case *pcapng.EnhancedPacketBlock:
		id, err := c.mapID(b.InterfaceID)
		if err != nil {
			return err
		}
		opts := c.options(pcapng.EnhancedPacketBlockType, b.Options)
		if err := c.w.WriteEnhancedPacket(id, b.Timestamp, b.Data, opts...); err != nil {
			return err
		}
		c.packets++
		return nil
	case *pcapng.SimplePacketBlock:
		if err := c.w.WriteSimplePacket(b.Data); err != nil {
			return err
		}
		c.packets++
		return nil
	case *pcapng.PacketBlock:
		id, err := c.legacyInterface()
		if err != nil {
			return err
		}
		if err := c.w.WriteEnhancedPacket(id, b.Timestamp, b.Data); err != nil {
			return err
		}
		c.packets++
		return nil
	case *pcapng.InterfaceStatisticsBlock:
		id, err := c.mapID(b.InterfaceID)
		if err != nil {
			return err
		}
		opts := c.options(pcapng.InterfaceStatisticsBlockType, b.Options)
		return c.w.WriteInterfaceStatistics(id, b.Timestamp, opts...)
	case *pcapng.OtherBlock:
		body := b.Body
		if c.order != nil {
			var err error
			if body, err = pcapng.ReorderBody(b.Type, b.Body, c.order, c.w.ByteOrder()); err != nil {
				return err
			}
		}
		return c.w.WriteRawBlock(b.Type, body)
	default:
		return fmt.Errorf("capfile: unsupported block %T", block)
	}
}

// mapID 把包块中按节计数的接口编号换算为输出编号。
func (c *converter) mapID(id uint32) (uint32, error) {
	out, ok := c.ids[c.base+id]
	if !ok {
		return 0, fmt.Errorf("%w %d in input", pcapng.ErrUnknownInterface, id)
	}
	return out, nil
}

// legacyInterface 在第一个 pcap 记录之前根据文件头写出唯一的接口描述。
func (c *converter) legacyInterface() (uint32, error) {
	if c.legacy != nil {
		return *c.legacy, nil
	}
	linkType, res, snapLen := pcapng.LinkTypeEthernet, pcapng.ResolutionMicroseconds, uint32(0)
	in := c.in
	if f, ok := in.(*File); ok {
		in = f.Input
	}
	if lin, ok := in.(legacyInput); ok {
		hdr := lin.Header()
		linkType, snapLen = hdr.LinkType(), hdr.SnapLen
		if hdr.IsNanosecond() {
			res = pcapng.ResolutionNanoseconds
		}
	}
	id, err := c.w.WriteInterfaceDescription(linkType, c.resolution(res), pcapng.WithSnapLen(snapLen))
	if err != nil {
		return 0, err
	}
	c.legacy = &id
	return id, nil
}
