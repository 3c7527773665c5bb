package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"gallerysync/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 确定性的 CBOR 编码选项
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	Sort: cbor.SortCanonical,

	// 2. 时间格式化为 Unix 整数，不生成 Tag 0/1
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 3. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 限制容器元素数量和嵌套深度，缓存里读出的数据不可信
	MaxArrayElements: 10000,
	MaxMapPairs:      10000,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// CalculateFingerprint 流式计算整个文件的 MD5
// 返回指纹和读取的字节数
func CalculateFingerprint(r io.Reader) (types.Fingerprint, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return types.Fingerprint(hex.EncodeToString(h.Sum(nil))), n, nil
}

// Fingerprinter 边写边计算指纹，配合 io.TeeReader 使用
type Fingerprinter struct {
	h hash.Hash
	n int64
}

func NewFingerprinter() *Fingerprinter { return &Fingerprinter{h: md5.New()} }

func (f *Fingerprinter) Write(p []byte) (int, error) {
	f.n += int64(len(p))
	return f.h.Write(p)
}

func (f *Fingerprinter) Sum() types.Fingerprint {
	return types.Fingerprint(hex.EncodeToString(f.h.Sum(nil)))
}

// Size 返回已写入的字节数
func (f *Fingerprinter) Size() int64 { return f.n }

// EncodeObject 以确定性的方式序列化 v
func EncodeObject(v any) ([]byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return data, nil
}

// DecodeObject 通用的解码函数
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
