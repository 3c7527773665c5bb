package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir()) // 确保不会读到仓库里的 config.yaml

	require.NoError(t, Load(""))
	s := Current()

	assert.Equal(t, 1, s.Hash.Workers)
	assert.Equal(t, 500, s.Check.MaxBatch)
	assert.Equal(t, 3, s.Check.Retries)
	assert.Equal(t, 10, s.Upload.Workers)
	assert.Equal(t, 500_000, s.Upload.ChunkSize)
	assert.Equal(t, int64(1), s.Upload.DefaultAlbum)
	assert.Equal(t, 10, s.Reconcile.Workers)
	assert.Equal(t, []string{"iPhoto Events"}, s.Library.SkipFolders)
	assert.Equal(t, 24*time.Hour, s.Cache.TTL)
	assert.Equal(t, "index.json", filepath.Base(s.Hash.Index))
	assert.NoError(t, s.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gallery:
  url: http://arg:8000
  user: austin
library:
  root: /photos
  skip_folders: ["iPhoto Events", "Imports"]
upload:
  workers: 4
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0644))
	t.Setenv("GS_GALLERY_PASSWORD", "s3cret")
	t.Setenv("GS_UPLOAD_WORKERS", "6")

	require.NoError(t, Load(cfgFile))
	s := Current()

	assert.Equal(t, "http://arg:8000", s.Gallery.URL)
	assert.Equal(t, "austin", s.Gallery.User)
	assert.Equal(t, "s3cret", s.Gallery.Password, "密码应该可以来自环境变量")
	assert.Equal(t, 6, s.Upload.Workers, "环境变量优先于配置文件")
	assert.Equal(t, "/photos", s.Library.Root)
	assert.Equal(t, []string{"iPhoto Events", "Imports"}, s.Library.SkipFolders)
}

func TestLoad_BrokenFile(t *testing.T) {
	viper.Reset()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("gallery: [unclosed"), 0644))

	assert.Error(t, Load(cfgFile))
}

func TestSettings_Validate(t *testing.T) {
	viper.Reset()
	t.Chdir(t.TempDir())
	require.NoError(t, Load(""))

	s := Current()
	s.Gallery.URL = "not a url"
	s.Check.MaxBatch = 0
	s.Upload.Workers = 0
	s.Journal.Driver = "mysql"

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gallery.url")
	assert.Contains(t, err.Error(), "check.max_batch")
	assert.Contains(t, err.Error(), "upload.workers")
	assert.Contains(t, err.Error(), "journal.driver")
}
