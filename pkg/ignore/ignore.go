package ignore

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"gallerysync/pkg/storage"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是媒体库根目录下的忽略规则文件
const FileName = ".syncignore"

// defaultRules 强制生效，用户规则无法覆盖
var defaultRules = []string{
	// --- 元数据与配置 ---
	FileName,
	".git",
	".gallerysync",
	"config.yaml", // 防止密码被当成媒体文件上传
	".env",

	// --- 常见垃圾文件 ---
	".DS_Store",   // macOS
	"._*",         // macOS resource fork
	"Thumbs.db",   // Windows
	"desktop.ini", // Windows
	"@eaDir",      // Synology 缩略图目录
}

// Matcher 封装了忽略逻辑
// 它负责判断媒体库里的一个文件是否应该被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 用默认规则加上 lines 编译匹配器
func NewMatcher(lines ...string) *Matcher {
	all := make([]string, 0, len(defaultRules)+len(lines))
	all = append(all, defaultRules...)
	all = append(all, lines...)
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(all...)}
}

// Load 从 store 读取 .syncignore 并和默认规则合并
// 文件不存在时只使用默认规则
func Load(ctx context.Context, store storage.Store) (*Matcher, error) {
	rc, err := store.Open(ctx, FileName)
	if errors.Is(err, storage.ErrNotFound) {
		return NewMatcher(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", FileName, err)
	}
	defer rc.Close()

	var lines []string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	return NewMatcher(lines...), nil
}

// Matches 检查给定的路径是否匹配忽略规则
// path: 相对于媒体库根目录的 key (例如 "Trips/Paris/IMG_1.JPG")
// 返回: true 表示应该忽略 (Skip), false 表示应该保留 (Keep)
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(path)
}
