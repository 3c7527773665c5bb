package pipeline

import (
	"gallerysync/pkg/core"
	"gallerysync/pkg/types"
)

// Item 是在各个 stage 之间流动的单元，逐步被填充：
// {Asset, Variant} -> +Fingerprint -> +RemoteID
// Item 按值传递，入队之后上一个 stage 不会再碰它
type Item struct {
	Asset   core.Asset
	Variant core.Variant

	Fingerprint types.Fingerprint
	Size        int64

	// RemoteID 是远端图片 id；Existing 表示它在本次运行之前就存在
	RemoteID types.AssetID
	Existing bool
}

// key 用于 (asset, variant) 去重
func (it Item) key() string {
	return it.Asset.ID + "\x00" + it.Variant.Path
}
