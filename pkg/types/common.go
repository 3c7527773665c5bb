// pkg/types/common.go
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint 代表文件内容的指纹 (MD5 Hex String)
// 这是一个“值对象”，应当是不可变的。Piwigo 用它做去重和 original_sum。
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

func (f Fingerprint) IsZero() bool  { return f == "" }
func (f Fingerprint) IsValid() bool { return len(f) == 32 } // 简单的长度检查

// Short 返回前 8 位，用于日志
func (f Fingerprint) Short() string {
	if len(f) < 8 {
		return string(f)
	}
	return string(f[:8])
}

// AssetID 是远端图片的 ID (Piwigo image_id)
type AssetID int64

// AlbumID 是远端相册的 ID (Piwigo category id)
type AlbumID int64

func (id AssetID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id AlbumID) String() string { return strconv.FormatInt(int64(id), 10) }

// UnmarshalJSON 兼容数字和字符串两种写法
// Piwigo 在不同接口里对 ID 的编码并不统一 (pwg.images.exist 返回 "42")
func (id *AssetID) UnmarshalJSON(data []byte) error {
	v, err := parseJSONID(data)
	if err != nil {
		return fmt.Errorf("invalid asset id %s: %w", data, err)
	}
	*id = AssetID(v)
	return nil
}

func (id *AlbumID) UnmarshalJSON(data []byte) error {
	v, err := parseJSONID(data)
	if err != nil {
		return fmt.Errorf("invalid album id %s: %w", data, err)
	}
	*id = AlbumID(v)
	return nil
}

func parseJSONID(data []byte) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

// AlbumPath 是相册层级中从根到叶的名字序列
// 相等性是结构化的：两个名字序列相同即为同一路径
type AlbumPath []string

// keySep 不会出现在正常的相册名里
const keySep = "\x1f"

// Key 返回可用作 map key 的字符串形式
func (p AlbumPath) Key() string { return strings.Join(p, keySep) }

func (p AlbumPath) String() string { return strings.Join(p, " / ") }

func (p AlbumPath) IsRoot() bool { return len(p) == 1 }

func (p AlbumPath) Equal(other AlbumPath) bool { return p.Key() == other.Key() }

// Parent 返回上一级路径，根路径返回 nil
func (p AlbumPath) Parent() AlbumPath {
	if len(p) <= 1 {
		return nil
	}
	return append(AlbumPath(nil), p[:len(p)-1]...)
}

// Name 返回叶子节点名字
func (p AlbumPath) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Prefixes 按从短到长的顺序返回所有前缀 (包含自身)
// 例如 (A, B, C) -> (A), (A, B), (A, B, C)
func (p AlbumPath) Prefixes() []AlbumPath {
	out := make([]AlbumPath, 0, len(p))
	for l := 1; l <= len(p); l++ {
		out = append(out, append(AlbumPath(nil), p[:l]...))
	}
	return out
}

// Child 返回追加一级名字后的新路径，不修改原路径
func (p AlbumPath) Child(name string) AlbumPath {
	out := make(AlbumPath, 0, len(p)+1)
	out = append(out, p...)
	return append(out, name)
}
