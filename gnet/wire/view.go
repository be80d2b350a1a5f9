// Package wire 提供抓包文件编解码共用的字节序视图和定长读取器。
package wire

import (
	"encoding/binary"
	"fmt"
)

// View 按选定字节序从字节窗口中取出 N 字节整数。
type View struct {
	Order binary.ByteOrder
}

func NewView(order binary.ByteOrder) View {
	if order == nil {
		order = binary.BigEndian
	}
	return View{Order: order}
}

// Uint 读取 b 开头的 n 字节整数，n 只能是 1、2、4、8。
func (v View) Uint(b []byte, n int) uint64 {
	switch n {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(v.Order.Uint16(b))
	case 4:
		return uint64(v.Order.Uint32(b))
	case 8:
		return v.Order.Uint64(b)
	default:
		panic(fmt.Sprintf("wire: unsupported integer width %d", n))
	}
}

func (v View) Uint16(b []byte) uint16 { return v.Order.Uint16(b) }
func (v View) Uint32(b []byte) uint32 { return v.Order.Uint32(b) }
func (v View) Uint64(b []byte) uint64 { return v.Order.Uint64(b) }

func (v View) PutUint16(b []byte, x uint16) { v.Order.PutUint16(b, x) }
func (v View) PutUint32(b []byte, x uint32) { v.Order.PutUint32(b, x) }
func (v View) PutUint64(b []byte, x uint64) { v.Order.PutUint64(b, x) }

// IsBigEndian 报告视图是否为大端序。
func (v View) IsBigEndian() bool {
	return v.Order == binary.BigEndian
}

// Pad4 返回把 n 字节补齐到 4 字节边界所需的填充字节数。
func Pad4(n int) int {
	return (4 - n%4) % 4
}
