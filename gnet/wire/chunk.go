package wire

import (
	"errors"
	"fmt"
	"io"
)

const defaultChunkSize = 1024

// ChunkReader 从底层流中读取精确长度的字节块，复用内部缓冲区。
// 非并发安全。
type ChunkReader struct {
	r      io.Reader
	buf    []byte
	offset int64
}

func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{
		r:   r,
		buf: make([]byte, defaultChunkSize),
	}
}

// Offset 返回自创建以来已消费的字节数。
func (c *ChunkReader) Offset() int64 {
	return c.offset
}

// Read 读取 n 字节到内部缓冲区，返回的切片在下一次调用前有效。
// 任何不足 n 字节的情况都报告为 short。
func (c *ChunkReader) Read(n int, short error) ([]byte, error) {
	b, err := c.fill(n, short)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: want %d bytes, got 0", short, n)
	}
	return b, err
}

// ReadBoundary 与 Read 相同，但在一个字节都没有读到时返回 io.EOF，
// 用于区分块边界上的正常结束与块中途截断。
func (c *ChunkReader) ReadBoundary(n int, short error) ([]byte, error) {
	return c.fill(n, short)
}

// ReadCopy 读取 n 字节到新分配的切片中。
func (c *ChunkReader) ReadCopy(n int, short error) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", short, n)
	}
	out := make([]byte, n)
	got, err := io.ReadFull(c.r, out)
	c.offset += int64(got)
	if err != nil {
		return nil, c.shortErr(err, n, got, short)
	}
	return out, nil
}

// Skip 丢弃 n 字节。
func (c *ChunkReader) Skip(n int, short error) error {
	for n > 0 {
		step := n
		if step > len(c.buf) {
			step = len(c.buf)
		}
		if _, err := c.Read(step, short); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

func (c *ChunkReader) fill(n int, short error) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", short, n)
	}
	if n > len(c.buf) {
		c.buf = make([]byte, n)
	}
	b := c.buf[:n]
	got, err := io.ReadFull(c.r, b)
	c.offset += int64(got)
	if err != nil {
		if got == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, c.shortErr(err, n, got, short)
	}
	return b, nil
}

func (c *ChunkReader) shortErr(err error, want, got int, short error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: want %d bytes, got %d", short, want, got)
	}
	return err
}
