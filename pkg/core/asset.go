package core

import (
	"strings"

	"gallerysync/pkg/types"
)

// VariantKind 描述同一个 Asset 的不同文件形态
type VariantKind string

const (
	VariantOriginal VariantKind = "original" // 原图
	VariantEdited   VariantKind = "edited"   // 编辑后的版本
)

// Variant 是 Asset 的一个具体文件
// Path 是相对于存储根的 key (本地磁盘或 S3)
type Variant struct {
	Kind VariantKind
	Path string
}

// Asset 代表本地媒体库里的一个条目 (照片或视频)
// 一次运行内只读，不会被任何 stage 修改
type Asset struct {
	ID       string
	Variants []Variant

	// 展示名候选，按优先级排列
	Title            string
	OriginalFilename string
	Filename         string

	// 本地已知的相册归属
	Albums []types.AlbumPath
}

// DisplayName 按 Title -> OriginalFilename -> Filename 的顺序取第一个非空值
// 全部为空时退回指纹，保证上传时总有一个文件名
func DisplayName(a Asset, fp types.Fingerprint) string {
	for _, candidate := range []string{a.Title, a.OriginalFilename, a.Filename} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return fp.String()
}

// UploadName 是 pwg.images.add 里 original_filename 的取值
// 与 DisplayName 不同，它不使用 Title (Title 不是文件名)
func UploadName(a Asset, fp types.Fingerprint) string {
	return DisplayName(Asset{OriginalFilename: a.OriginalFilename, Filename: a.Filename}, fp)
}
