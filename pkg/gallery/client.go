package gallery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"gallerysync/pkg/types"

	"golang.org/x/time/rate"
)

// Config 用于初始化 Client
type Config struct {
	URL       string        // 站点根地址，例如 http://arg:8000
	Timeout   time.Duration // 单次请求超时
	RateLimit float64       // 每秒请求数，<= 0 表示不限速
	Burst     int
}

// Client 封装了与 Piwigo web service (ws.php) 的会话
// 会话 cookie 存在 jar 里，所有 worker 共享同一个 Client
type Client struct {
	endpoint string
	http     *http.Client
}

var _ Gallery = (*Client)(nil)

// NewClient 创建并初始化客户端
// 这里不发起任何网络请求，登录由 Login 负责
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gallery url %q", cfg.URL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		endpoint: base.String() + "/ws.php?format=json",
		http: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: newTransport(http.DefaultTransport, limiter),
		},
	}, nil
}

// envelope 是 ws.php 的统一响应格式
type envelope struct {
	Stat    string          `json:"stat"`
	Err     int             `json:"err"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// call 以 POST 表单的形式调用一个 ws 方法，并把 result 解码到 out
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"&method="+url.QueryEscape(method), strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: malformed response: %w", method, err)
	}
	if env.Stat != "ok" {
		return &APIError{Method: method, Code: env.Err, Message: env.Message}
	}

	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := c.call(ctx, "pwg.getVersion", nil, &version); err != nil {
		return "", err
	}
	return version, nil
}

func (c *Client) Login(ctx context.Context, user, password string) error {
	return c.call(ctx, "pwg.session.login", url.Values{
		"username": {user},
		"password": {password},
	}, nil)
}

func (c *Client) ListAlbums(ctx context.Context) ([]Category, error) {
	var tree []Category
	err := c.call(ctx, "pwg.categories.getList", url.Values{
		"recursive":   {"true"},
		"tree_output": {"true"},
	}, &tree)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func (c *Client) CreateAlbum(ctx context.Context, name string, parent *types.AlbumID) (types.AlbumID, error) {
	params := url.Values{"name": {name}}
	if parent != nil {
		params.Set("parent", parent.String())
	}

	var result struct {
		ID types.AlbumID `json:"id"`
	}
	if err := c.call(ctx, "pwg.categories.add", params, &result); err != nil {
		return 0, err
	}
	if result.ID == 0 {
		return 0, fmt.Errorf("pwg.categories.add: no id returned for %q", name)
	}
	return result.ID, nil
}

func (c *Client) CheckExistence(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]*types.AssetID, error) {
	out := make(map[types.Fingerprint]*types.AssetID, len(fps))
	if len(fps) == 0 {
		return out, nil
	}

	list := make([]string, len(fps))
	for i, fp := range fps {
		list[i] = fp.String()
	}

	// 服务端对不存在的 md5 返回 null
	var result map[string]*types.AssetID
	if err := c.call(ctx, "pwg.images.exist", url.Values{
		"md5sum_list": {strings.Join(list, ",")},
	}, &result); err != nil {
		return nil, err
	}

	for _, fp := range fps {
		id, ok := result[fp.String()]
		if !ok {
			continue
		}
		out[fp] = id
	}
	return out, nil
}

func (c *Client) UploadChunk(ctx context.Context, fp types.Fingerprint, position int, data []byte) error {
	return c.call(ctx, "pwg.images.addChunk", url.Values{
		"data":         {base64.StdEncoding.EncodeToString(data)},
		"original_sum": {fp.String()},
		"type":         {"file"},
		"position":     {strconv.Itoa(position)},
	}, nil)
}

func (c *Client) FinalizeUpload(ctx context.Context, req FinalizeRequest) (types.AssetID, error) {
	if len(req.Categories) == 0 {
		return 0, fmt.Errorf("pwg.images.add: at least one category is required")
	}
	params := url.Values{
		"original_sum":      {req.Fingerprint.String()},
		"original_filename": {req.Filename},
		"categories":        {joinAlbumIDs(req.Categories)},
	}
	if req.Name != "" {
		params.Set("name", req.Name)
	}

	var result struct {
		ImageID types.AssetID `json:"image_id"`
	}
	if err := c.call(ctx, "pwg.images.add", params, &result); err != nil {
		return 0, err
	}
	if result.ImageID == 0 {
		return 0, fmt.Errorf("pwg.images.add: no image_id returned for %s", req.Fingerprint)
	}
	return result.ImageID, nil
}

func (c *Client) AssetInfo(ctx context.Context, id types.AssetID) (AssetInfo, error) {
	var result struct {
		ID         types.AssetID `json:"id"`
		Categories []struct {
			ID types.AlbumID `json:"id"`
		} `json:"categories"`
	}
	if err := c.call(ctx, "pwg.images.getInfo", url.Values{"image_id": {id.String()}}, &result); err != nil {
		return AssetInfo{}, err
	}

	info := AssetInfo{ID: id, Categories: make([]types.AlbumID, 0, len(result.Categories))}
	for _, cat := range result.Categories {
		info.Categories = append(info.Categories, cat.ID)
	}
	return info, nil
}

func (c *Client) SetAssetCategories(ctx context.Context, id types.AssetID, ids []types.AlbumID) error {
	return c.call(ctx, "pwg.images.setInfo", url.Values{
		"image_id":            {id.String()},
		"categories":          {joinAlbumIDs(ids)},
		"multiple_value_mode": {"replace"},
	}, nil)
}

// joinAlbumIDs 排序后用 ";" 连接，保证请求是确定的
func joinAlbumIDs(ids []types.AlbumID) string {
	sorted := append([]types.AlbumID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = id.String()
	}
	return strings.Join(parts, ";")
}
