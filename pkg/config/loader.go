package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 GS_GALLERY_PASSWORD
const EnvPrefix = "GS"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .gallerysync
		viper.AddConfigPath(".gallerysync")
		// 3. 用户主目录下的 .gallerysync
		viper.AddConfigPath(filepath.Join(home, ".gallerysync"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (GS_GALLERY_URL 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全部来自环境变量
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	// 远端
	viper.SetDefault("gallery.url", "http://localhost:8000")
	viper.SetDefault("gallery.user", "admin")
	viper.SetDefault("gallery.rate_limit", 0.0)
	viper.SetDefault("gallery.burst", 1)
	viper.SetDefault("gallery.timeout", 60*time.Second)

	// 媒体库
	viper.SetDefault("library.root", ".")
	viper.SetDefault("library.skip_folders", []string{"iPhoto Events"})

	// 流水线
	viper.SetDefault("hash.workers", 1)
	viper.SetDefault("check.max_batch", 500)
	viper.SetDefault("check.retries", 3)
	viper.SetDefault("check.retry_interval", 500*time.Millisecond)
	viper.SetDefault("upload.workers", 10)
	viper.SetDefault("upload.chunk_size", 500_000)
	viper.SetDefault("upload.default_album", 1)
	viper.SetDefault("reconcile.workers", 10)

	// 缓存 (为空表示不启用)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", 24*time.Hour)

	// 运行日志
	viper.SetDefault("journal.driver", "sqlite")
	if home, err := os.UserHomeDir(); err == nil {
		viper.SetDefault("journal.dsn", filepath.Join(home, ".gallerysync", "journal.db"))
		viper.SetDefault("hash.index", filepath.Join(home, ".gallerysync", "index.json"))
	}

	// S3
	viper.SetDefault("s3.region", "us-east-1")

	// 日志
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}
