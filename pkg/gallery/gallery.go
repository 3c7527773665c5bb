package gallery

import (
	"context"
	"errors"
	"fmt"

	"gallerysync/pkg/types"
)

var (
	// ErrNotLoggedIn 表示会话已失效或从未登录
	ErrNotLoggedIn = errors.New("gallery session not authenticated")
)

// Category 是远端相册树中的一个节点
type Category struct {
	ID       types.AlbumID `json:"id"`
	Name     string        `json:"name"`
	Children []Category    `json:"sub_categories,omitempty"`
}

// AssetInfo 是远端图片的元数据，目前只关心它所属的相册
type AssetInfo struct {
	ID         types.AssetID
	Categories []types.AlbumID
}

// FinalizeRequest 描述 pwg.images.add 的参数
type FinalizeRequest struct {
	Fingerprint types.Fingerprint
	// Categories 至少一个；API 要求上传时就归入某个相册
	Categories []types.AlbumID
	// Filename 会作为 original_filename
	Filename string
	// Name 是展示名，可以为空
	Name string
}

// Gallery 是远端相册服务的全部能力
// 实现必须是并发安全的：多个 worker 共享同一个实例
type Gallery interface {
	ServerVersion(ctx context.Context) (string, error)
	Login(ctx context.Context, user, password string) error

	// ListAlbums 返回完整的相册树 (递归)
	ListAlbums(ctx context.Context) ([]Category, error)
	// CreateAlbum 创建相册；parent 为 nil 表示根相册
	// 注意：远端不保证幂等，重复调用会创建同名相册
	CreateAlbum(ctx context.Context, name string, parent *types.AlbumID) (types.AlbumID, error)

	// CheckExistence 批量查询指纹
	// 值为 nil 表示远端没有；服务端没有回答的指纹不会出现在 map 里
	CheckExistence(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]*types.AssetID, error)

	UploadChunk(ctx context.Context, fp types.Fingerprint, position int, data []byte) error
	FinalizeUpload(ctx context.Context, req FinalizeRequest) (types.AssetID, error)

	AssetInfo(ctx context.Context, id types.AssetID) (AssetInfo, error)
	// SetAssetCategories 用 ids 整体替换图片的相册归属
	SetAssetCategories(ctx context.Context, id types.AssetID, ids []types.AlbumID) error
}

// APIError 是服务端返回的 stat=fail 响应
type APIError struct {
	Method  string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: [%d] %s", e.Method, e.Code, e.Message)
}

// Is 让 401 可以被 errors.Is(err, ErrNotLoggedIn) 识别
func (e *APIError) Is(target error) bool {
	return target == ErrNotLoggedIn && e.Code == 401
}

// Walk 深度优先遍历相册树，回调里拿到节点的完整路径
func Walk(tree []Category, fn func(path types.AlbumPath, c Category)) {
	var visit func(parent types.AlbumPath, nodes []Category)
	visit = func(parent types.AlbumPath, nodes []Category) {
		for _, c := range nodes {
			p := parent.Child(c.Name)
			fn(p, c)
			visit(p, c.Children)
		}
	}
	visit(nil, tree)
}
