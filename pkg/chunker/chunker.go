package chunker

import (
	"errors"
	"fmt"
	"io"
)

// DefaultSize 是 pwg.images.addChunk 单块的默认大小 (单位: 字节)
const DefaultSize = 500_000

// Chunker 按固定大小切分数据流
// Piwigo 按 position 拼装分块，所以切分必须是确定的、连续的
type Chunker struct {
	size int
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	return &Chunker{size: size}
}

func (c *Chunker) Size() int { return c.size }

// Cut 返回长度为 n 的数据的所有切点 (每一块的结束 offset)
// 最后一个切点总是 n；n 为 0 时返回空
func (c *Chunker) Cut(n int) []int {
	var cutPoints []int
	for end := c.size; ; end += c.size {
		if end >= n {
			if n > 0 {
				cutPoints = append(cutPoints, n)
			}
			return cutPoints
		}
		cutPoints = append(cutPoints, end)
	}
}

// ChunkFunc 处理一个分块
// data 在回调返回后会被复用，回调不能持有它
type ChunkFunc func(position int, data []byte) error

// Split 顺序读取 r，按 position 0..n-1 依次回调
// 返回成功回调的块数。任意一次回调出错立即停止。
func (c *Chunker) Split(r io.Reader, fn ChunkFunc) (int, error) {
	buf := make([]byte, c.size)
	position := 0

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if cbErr := fn(position, buf[:n]); cbErr != nil {
				return position, cbErr
			}
			position++
		}

		// 1. 正常结束：读到了末尾 (最后一块可能不满)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return position, nil
		}
		// 2. 真正的读错误
		if err != nil {
			return position, fmt.Errorf("failed to read chunk %d: %w", position, err)
		}
	}
}
