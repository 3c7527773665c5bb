// Package gallerytest 提供一个内存版的 Gallery，用于各个 stage 的测试
package gallerytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/types"
)

// CreateCall 记录一次 CreateAlbum 调用
type CreateCall struct {
	Name   string
	Parent *types.AlbumID
}

// SetCall 记录一次 SetAssetCategories 调用
type SetCall struct {
	Asset      types.AssetID
	Categories []types.AlbumID
}

// Fake 是并发安全的内存 Gallery
// 错误注入通过各个 Fail* 钩子完成，返回非 nil 即失败
type Fake struct {
	mu sync.Mutex

	albums  []gallery.Category
	nextID  int64
	assets  map[types.Fingerprint]types.AssetID
	cats    map[types.AssetID][]types.AlbumID
	chunks  map[types.Fingerprint][]int
	creates []CreateCall
	sets    []SetCall
	batches [][]types.Fingerprint

	// 计数器
	ExistCalls    atomic.Int64
	ChunkCalls    atomic.Int64
	FinalizeCalls atomic.Int64
	InfoCalls     atomic.Int64
	SetCalls      atomic.Int64
	CreateCalls   atomic.Int64

	// 错误注入
	FailExist    func(batch []types.Fingerprint) error
	FailChunk    func(fp types.Fingerprint, position int) error
	FailFinalize func(fp types.Fingerprint) error
	FailCreate   func(name string) error
	FailInfo     func(id types.AssetID) error
	FailSet      func(id types.AssetID) error
}

var _ gallery.Gallery = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		nextID: 1000,
		assets: make(map[types.Fingerprint]types.AssetID),
		cats:   make(map[types.AssetID][]types.AlbumID),
		chunks: make(map[types.Fingerprint][]int),
	}
}

// -----------------------------------------------------------------------------
// Seed helpers
// -----------------------------------------------------------------------------

// SeedAlbum 在 parent 下放一个已存在的相册；parent 为 0 表示根
func (f *Fake) SeedAlbum(id types.AlbumID, name string, parent types.AlbumID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node := gallery.Category{ID: id, Name: name}
	if parent == 0 {
		f.albums = append(f.albums, node)
		return
	}
	if !insertChild(f.albums, parent, node) {
		panic(fmt.Sprintf("gallerytest: parent album %d not seeded", parent))
	}
}

// SeedAsset 放一个已存在的远端图片
func (f *Fake) SeedAsset(fp types.Fingerprint, id types.AssetID, cats ...types.AlbumID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[fp] = id
	f.cats[id] = append([]types.AlbumID(nil), cats...)
}

func insertChild(nodes []gallery.Category, parent types.AlbumID, child gallery.Category) bool {
	for i := range nodes {
		if nodes[i].ID == parent {
			nodes[i].Children = append(nodes[i].Children, child)
			return true
		}
		if insertChild(nodes[i].Children, parent, child) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Inspection helpers
// -----------------------------------------------------------------------------

func (f *Fake) Creates() []CreateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CreateCall(nil), f.creates...)
}

func (f *Fake) Sets() []SetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SetCall(nil), f.sets...)
}

// Batches 返回每次 CheckExistence 的入参
func (f *Fake) Batches() [][]types.Fingerprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]types.Fingerprint(nil), f.batches...)
}

// Chunks 返回某个指纹收到的分块 position 序列 (按到达顺序)
func (f *Fake) Chunks(fp types.Fingerprint) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.chunks[fp]...)
}

// Categories 返回远端图片当前的相册归属 (排序)
func (f *Fake) Categories(id types.AssetID) []types.AlbumID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedIDs(f.cats[id])
}

// AssetOf 返回指纹对应的远端 id
func (f *Fake) AssetOf(fp types.Fingerprint) (types.AssetID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.assets[fp]
	return id, ok
}

func (f *Fake) AssetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assets)
}

// -----------------------------------------------------------------------------
// gallery.Gallery
// -----------------------------------------------------------------------------

func (f *Fake) ServerVersion(context.Context) (string, error) { return "fake", nil }

func (f *Fake) Login(_ context.Context, user, _ string) error {
	if user == "" {
		return &gallery.APIError{Method: "pwg.session.login", Code: 401, Message: "invalid credentials"}
	}
	return nil
}

func (f *Fake) ListAlbums(ctx context.Context) ([]gallery.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneTree(f.albums), nil
}

func (f *Fake) CreateAlbum(ctx context.Context, name string, parent *types.AlbumID) (types.AlbumID, error) {
	f.CreateCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.FailCreate != nil {
		if err := f.FailCreate(name); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var p *types.AlbumID
	if parent != nil {
		v := *parent
		p = &v
	}
	f.creates = append(f.creates, CreateCall{Name: name, Parent: p})

	f.nextID++
	id := types.AlbumID(f.nextID)
	node := gallery.Category{ID: id, Name: name}
	if parent == nil {
		f.albums = append(f.albums, node)
	} else if !insertChild(f.albums, *parent, node) {
		return 0, &gallery.APIError{Method: "pwg.categories.add", Code: 404, Message: "parent not found"}
	}
	return id, nil
}

func (f *Fake) CheckExistence(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]*types.AssetID, error) {
	f.ExistCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.batches = append(f.batches, append([]types.Fingerprint(nil), fps...))
	f.mu.Unlock()

	if f.FailExist != nil {
		if err := f.FailExist(fps); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.Fingerprint]*types.AssetID, len(fps))
	for _, fp := range fps {
		if id, ok := f.assets[fp]; ok {
			v := id
			out[fp] = &v
		} else {
			out[fp] = nil
		}
	}
	return out, nil
}

func (f *Fake) UploadChunk(ctx context.Context, fp types.Fingerprint, position int, _ []byte) error {
	f.ChunkCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.FailChunk != nil {
		if err := f.FailChunk(fp, position); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks[fp] = append(f.chunks[fp], position)
	return nil
}

func (f *Fake) FinalizeUpload(ctx context.Context, req gallery.FinalizeRequest) (types.AssetID, error) {
	f.FinalizeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.FailFinalize != nil {
		if err := f.FailFinalize(req.Fingerprint); err != nil {
			return 0, err
		}
	}
	if len(req.Categories) == 0 {
		return 0, errors.New("gallerytest: finalize without categories")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.assets[req.Fingerprint]; ok {
		return 0, &gallery.APIError{Method: "pwg.images.add", Code: 500, Message: fmt.Sprintf("file already exists as %d", id)}
	}
	f.nextID++
	id := types.AssetID(f.nextID)
	f.assets[req.Fingerprint] = id
	f.cats[id] = append([]types.AlbumID(nil), req.Categories...)
	return id, nil
}

func (f *Fake) AssetInfo(ctx context.Context, id types.AssetID) (gallery.AssetInfo, error) {
	f.InfoCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return gallery.AssetInfo{}, err
	}
	if f.FailInfo != nil {
		if err := f.FailInfo(id); err != nil {
			return gallery.AssetInfo{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cats, ok := f.cats[id]
	if !ok {
		return gallery.AssetInfo{}, &gallery.APIError{Method: "pwg.images.getInfo", Code: 404, Message: "image not found"}
	}
	return gallery.AssetInfo{ID: id, Categories: append([]types.AlbumID(nil), cats...)}, nil
}

func (f *Fake) SetAssetCategories(ctx context.Context, id types.AssetID, ids []types.AlbumID) error {
	f.SetCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.FailSet != nil {
		if err := f.FailSet(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, SetCall{Asset: id, Categories: append([]types.AlbumID(nil), ids...)})
	f.cats[id] = append([]types.AlbumID(nil), ids...)
	return nil
}

func cloneTree(nodes []gallery.Category) []gallery.Category {
	if nodes == nil {
		return nil
	}
	out := make([]gallery.Category, len(nodes))
	for i, n := range nodes {
		out[i] = gallery.Category{ID: n.ID, Name: n.Name, Children: cloneTree(n.Children)}
	}
	return out
}

func sortedIDs(ids []types.AlbumID) []types.AlbumID {
	out := append([]types.AlbumID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
