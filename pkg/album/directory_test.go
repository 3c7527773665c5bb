package album

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/gallery/gallerytest"
	"gallerysync/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T, fake *gallerytest.Fake) *Directory {
	t.Helper()
	tree, err := fake.ListAlbums(context.Background())
	require.NoError(t, err)
	d := NewDirectory(fake)
	d.Load(tree)
	return d
}

func TestDirectory_Load(t *testing.T) {
	d := NewDirectory(gallerytest.New())
	d.Load([]gallery.Category{
		{ID: 7, Name: "Trips", Children: []gallery.Category{{ID: 9, Name: "Paris"}}},
		{ID: 3, Name: "Family"},
		{ID: 4, Name: "Family"}, // 同名，保留第一个
	})

	id, ok := d.Resolve(types.AlbumPath{"Trips", "Paris"})
	require.True(t, ok)
	assert.Equal(t, types.AlbumID(9), id)

	id, ok = d.Resolve(types.AlbumPath{"Family"})
	require.True(t, ok)
	assert.Equal(t, types.AlbumID(3), id)

	_, ok = d.Resolve(types.AlbumPath{"Paris"})
	assert.False(t, ok, "路径是结构化的，叶子名相同不代表同一相册")

	_, ok = d.Resolve(nil)
	assert.False(t, ok)

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []types.AlbumPath{{"Family"}, {"Trips"}, {"Trips", "Paris"}}, d.Paths())
}

// 场景：("Trips") 已存在 (id 7)，("Trips","Paris") 不存在
// 只创建 "Paris"，父相册为 7，一次 create 调用
func TestDirectory_Ensure_CreatesOnlyMissingLeaf(t *testing.T) {
	fake := gallerytest.New()
	fake.SeedAlbum(7, "Trips", 0)
	d := newLoaded(t, fake)

	id, err := d.Ensure(context.Background(), types.AlbumPath{"Trips", "Paris"})
	require.NoError(t, err)

	creates := fake.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "Paris", creates[0].Name)
	require.NotNil(t, creates[0].Parent)
	assert.Equal(t, types.AlbumID(7), *creates[0].Parent)

	got, ok := d.Resolve(types.AlbumPath{"Trips", "Paris"})
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, d.Created())
}

func TestDirectory_Ensure_Twice_OneCreate(t *testing.T) {
	fake := gallerytest.New()
	d := newLoaded(t, fake)
	ctx := context.Background()

	first, err := d.Ensure(ctx, types.AlbumPath{"Family"})
	require.NoError(t, err)
	second, err := d.Ensure(ctx, types.AlbumPath{"Family"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), fake.CreateCalls.Load())
}

func TestDirectory_Ensure_AncestorsFirst(t *testing.T) {
	fake := gallerytest.New()
	d := newLoaded(t, fake)

	_, err := d.Ensure(context.Background(), types.AlbumPath{"A", "B", "C"})
	require.NoError(t, err)

	creates := fake.Creates()
	require.Len(t, creates, 3)

	// 1. 根相册没有 parent
	assert.Equal(t, "A", creates[0].Name)
	assert.Nil(t, creates[0].Parent)

	// 2. 每一级的 parent 都是上一级刚创建的 id
	idA, _ := d.Resolve(types.AlbumPath{"A"})
	idB, _ := d.Resolve(types.AlbumPath{"A", "B"})
	assert.Equal(t, "B", creates[1].Name)
	assert.Equal(t, idA, *creates[1].Parent)
	assert.Equal(t, "C", creates[2].Name)
	assert.Equal(t, idB, *creates[2].Parent)
}

func TestDirectory_Ensure_EmptyPath(t *testing.T) {
	d := NewDirectory(gallerytest.New())
	_, err := d.Ensure(context.Background(), nil)
	assert.Error(t, err)
}

func TestDirectory_Ensure_FailureKeepsCreatedPrefixes(t *testing.T) {
	fake := gallerytest.New()
	boom := errors.New("server exploded")
	fake.FailCreate = func(name string) error {
		if name == "B" {
			return boom
		}
		return nil
	}
	d := newLoaded(t, fake)

	_, err := d.Ensure(context.Background(), types.AlbumPath{"A", "B", "C"})
	require.Error(t, err)

	var createErr *CreateError
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, types.AlbumPath{"A", "B"}, createErr.Path)
	assert.ErrorIs(t, err, ErrCreate)
	assert.ErrorIs(t, err, boom)

	_, ok := d.Resolve(types.AlbumPath{"A"})
	assert.True(t, ok, "失败前创建的前缀要保留")
	_, ok = d.Resolve(types.AlbumPath{"A", "B", "C"})
	assert.False(t, ok)

	// 修复后重试不会重复创建 A
	fake.FailCreate = nil
	_, err = d.Ensure(context.Background(), types.AlbumPath{"A", "B", "C"})
	require.NoError(t, err)
	names := []string{}
	for _, c := range fake.Creates() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestDirectory_EnsureAll_IndependentFailures(t *testing.T) {
	fake := gallerytest.New()
	fake.FailCreate = func(name string) error {
		if name == "Broken" {
			return errors.New("nope")
		}
		return nil
	}
	d := newLoaded(t, fake)

	err := d.EnsureAll(context.Background(), []types.AlbumPath{
		{"Broken", "Child"},
		{"Trips", "Paris"},
		{"Trips", "Paris"}, // 重复
		{"Trips"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCreate)

	_, ok := d.Resolve(types.AlbumPath{"Trips", "Paris"})
	assert.True(t, ok, "无关路径不受影响")
	_, ok = d.Resolve(types.AlbumPath{"Broken", "Child"})
	assert.False(t, ok)

	// Broken 1 次失败 + Trips + Paris
	assert.Equal(t, int64(3), fake.CreateCalls.Load())
}

// 并发 Ensure 重叠路径时，每个前缀只能创建一次
func TestDirectory_ConcurrentEnsure(t *testing.T) {
	fake := gallerytest.New()
	d := newLoaded(t, fake)

	paths := []types.AlbumPath{
		{"Trips", "Paris"},
		{"Trips", "Rome"},
		{"Trips"},
		{"Trips", "Paris", "Louvre"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(p types.AlbumPath) {
			defer wg.Done()
			_, err := d.Ensure(context.Background(), p)
			assert.NoError(t, err)
		}(paths[i%len(paths)])
	}
	wg.Wait()

	// Trips, Paris, Rome, Louvre
	assert.Equal(t, int64(4), fake.CreateCalls.Load())
	assert.Equal(t, 4, d.Len())
}

// 场景：("Trips","Paris") 已存在 (id 9)，新叶子挂在 9 下面而不是根下
func TestDirectory_Ensure_ParentFromLoadedTree(t *testing.T) {
	fake := gallerytest.New()
	fake.SeedAlbum(7, "Trips", 0)
	fake.SeedAlbum(9, "Paris", 7)
	d := newLoaded(t, fake)

	_, err := d.Ensure(context.Background(), types.AlbumPath{"Trips", "Paris", "Louvre"})
	require.NoError(t, err)

	creates := fake.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "Louvre", creates[0].Name)
	require.NotNil(t, creates[0].Parent)
	assert.Equal(t, types.AlbumID(9), *creates[0].Parent)
	assert.True(t, types.AlbumPath{"Trips"}.IsRoot())
}
