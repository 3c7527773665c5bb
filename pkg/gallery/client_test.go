package gallery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gallerysync/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer 是一个极简的 ws.php 实现，只用于断言请求格式
type wsServer struct {
	mu     sync.Mutex
	calls  []string
	forms  map[string][]map[string]string
	result map[string]any // method -> result
	fail   map[string]int // method -> err code
}

func newWSServer(t *testing.T) (*wsServer, *httptest.Server) {
	ws := &wsServer{
		forms:  make(map[string][]map[string]string),
		result: make(map[string]any),
		fail:   make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(ws.handle))
	t.Cleanup(srv.Close)
	return ws, srv
}

func (ws *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws.php" || r.URL.Query().Get("format") != "json" {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseForm()
	method := r.URL.Query().Get("method")

	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	ws.mu.Lock()
	ws.calls = append(ws.calls, method)
	ws.forms[method] = append(ws.forms[method], form)
	code, failing := ws.fail[method]
	result := ws.result[method]
	ws.mu.Unlock()

	if method == "pwg.session.login" {
		http.SetCookie(w, &http.Cookie{Name: "pwg_id", Value: "session-1"})
	}

	w.Header().Set("Content-Type", "application/json")
	if failing {
		_ = json.NewEncoder(w).Encode(map[string]any{"stat": "fail", "err": code, "message": "nope"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"stat": "ok", "result": result})
}

func (ws *wsServer) lastForm(method string) map[string]string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	forms := ws.forms[method]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	c, err := NewClient(Config{URL: srv.URL + "/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{URL: "not a url"})
	assert.Error(t, err)
}

func TestClient_LoginAndVersion(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.result["pwg.getVersion"] = "14.5.0"

	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx, "admin", "secret"))
	assert.Equal(t, map[string]string{"username": "admin", "password": "secret"}, ws.lastForm("pwg.session.login"))

	v, err := c.ServerVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "14.5.0", v)
}

func TestClient_ListAlbums_Tree(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.result["pwg.categories.getList"] = []map[string]any{
		{"id": 7, "name": "Trips", "sub_categories": []map[string]any{
			{"id": "9", "name": "Paris"},
		}},
		{"id": 3, "name": "Family"},
	}

	c := newTestClient(t, srv)
	tree, err := c.ListAlbums(context.Background())
	require.NoError(t, err)

	paths := map[string]types.AlbumID{}
	Walk(tree, func(p types.AlbumPath, cat Category) { paths[p.String()] = cat.ID })

	assert.Equal(t, map[string]types.AlbumID{
		"Trips":         7,
		"Trips / Paris": 9,
		"Family":        3,
	}, paths)
	assert.Equal(t, "true", ws.lastForm("pwg.categories.getList")["recursive"])
}

func TestClient_CreateAlbum(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.result["pwg.categories.add"] = map[string]any{"id": 12, "info": "Album added"}

	c := newTestClient(t, srv)
	ctx := context.Background()

	parent := types.AlbumID(7)
	id, err := c.CreateAlbum(ctx, "Paris", &parent)
	require.NoError(t, err)
	assert.Equal(t, types.AlbumID(12), id)
	assert.Equal(t, map[string]string{"name": "Paris", "parent": "7"}, ws.lastForm("pwg.categories.add"))

	// 根相册不带 parent
	_, err = c.CreateAlbum(ctx, "Trips", nil)
	require.NoError(t, err)
	_, hasParent := ws.lastForm("pwg.categories.add")["parent"]
	assert.False(t, hasParent)
}

func TestClient_CheckExistence(t *testing.T) {
	ws, srv := newWSServer(t)
	fpA := types.Fingerprint("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	fpB := types.Fingerprint("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	ws.result["pwg.images.exist"] = map[string]any{
		fpA.String(): "42",
		fpB.String(): nil,
	}

	c := newTestClient(t, srv)
	got, err := c.CheckExistence(context.Background(), []types.Fingerprint{fpA, fpB})
	require.NoError(t, err)

	require.Contains(t, got, fpA)
	require.NotNil(t, got[fpA])
	assert.Equal(t, types.AssetID(42), *got[fpA])
	require.Contains(t, got, fpB)
	assert.Nil(t, got[fpB])

	assert.Equal(t, fpA.String()+","+fpB.String(), ws.lastForm("pwg.images.exist")["md5sum_list"])
}

func TestClient_CheckExistence_EmptySkipsCall(t *testing.T) {
	ws, srv := newWSServer(t)
	c := newTestClient(t, srv)

	got, err := c.CheckExistence(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, ws.calls)
}

func TestClient_UploadAndFinalize(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.result["pwg.images.add"] = map[string]any{"image_id": 501, "url": "x"}
	fp := types.Fingerprint("cccccccccccccccccccccccccccccccc")

	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.UploadChunk(ctx, fp, 3, []byte("hello")))
	form := ws.lastForm("pwg.images.addChunk")
	assert.Equal(t, "3", form["position"])
	assert.Equal(t, "file", form["type"])
	assert.Equal(t, fp.String(), form["original_sum"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), form["data"])

	id, err := c.FinalizeUpload(ctx, FinalizeRequest{
		Fingerprint: fp,
		Categories:  []types.AlbumID{9, 1},
		Filename:    "IMG_1.JPG",
		Name:        "Sunset",
	})
	require.NoError(t, err)
	assert.Equal(t, types.AssetID(501), id)

	form = ws.lastForm("pwg.images.add")
	assert.Equal(t, "1;9", form["categories"], "相册 id 必须排序")
	assert.Equal(t, "IMG_1.JPG", form["original_filename"])
	assert.Equal(t, "Sunset", form["name"])
}

func TestClient_FinalizeRequiresCategory(t *testing.T) {
	_, srv := newWSServer(t)
	c := newTestClient(t, srv)

	_, err := c.FinalizeUpload(context.Background(), FinalizeRequest{Fingerprint: "x"})
	assert.Error(t, err)
}

func TestClient_AssetInfoAndSetCategories(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.result["pwg.images.getInfo"] = map[string]any{
		"id":         "42",
		"categories": []map[string]any{{"id": 3}, {"id": "7"}},
	}

	c := newTestClient(t, srv)
	ctx := context.Background()

	info, err := c.AssetInfo(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []types.AlbumID{3, 7}, info.Categories)

	require.NoError(t, c.SetAssetCategories(ctx, 42, []types.AlbumID{9, 3, 7}))
	form := ws.lastForm("pwg.images.setInfo")
	assert.Equal(t, "3;7;9", form["categories"])
	assert.Equal(t, "replace", form["multiple_value_mode"])
	assert.Equal(t, "42", form["image_id"])
}

func TestClient_APIError(t *testing.T) {
	ws, srv := newWSServer(t)
	ws.fail["pwg.categories.getList"] = 401

	c := newTestClient(t, srv)
	_, err := c.ListAlbums(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, "pwg.categories.getList", apiErr.Method)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestClient_SessionCookieIsReused(t *testing.T) {
	var mu sync.Mutex
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("method") == "pwg.session.login" {
			http.SetCookie(w, &http.Cookie{Name: "pwg_id", Value: "abc", Path: "/"})
		} else if ck, err := r.Cookie("pwg_id"); err == nil && ck.Value == "abc" {
			mu.Lock()
			sawCookie = true
			mu.Unlock()
		}
		_, _ = w.Write([]byte(`{"stat":"ok","result":"1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "u", "p"))
	_, err := c.ServerVersion(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, sawCookie, "登录后的请求必须带上会话 cookie")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	_, srv := newWSServer(t)
	c, err := NewClient(Config{URL: srv.URL, RateLimit: 0.001, Burst: 1})
	require.NoError(t, err)

	// 第一个请求消耗掉唯一的令牌
	_, err = c.ServerVersion(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ServerVersion(ctx)
	assert.Error(t, err)
}

func TestWalk_Order(t *testing.T) {
	tree := []Category{
		{ID: 1, Name: "A", Children: []Category{{ID: 2, Name: "B"}}},
		{ID: 3, Name: "C"},
	}
	var seen []string
	Walk(tree, func(p types.AlbumPath, _ Category) { seen = append(seen, p.String()) })
	assert.Equal(t, []string{"A", "A / B", "C"}, seen)
}
