package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"gallerysync/pkg/ignore"

	"github.com/spf13/cobra"
)

const configTemplate = `# gallerysync configuration
gallery:
  url: http://localhost:8000
  user: admin
  # password: 建议用环境变量 GS_GALLERY_PASSWORD
  rate_limit: 0

library:
  root: %s
  skip_folders:
    - iPhoto Events

upload:
  workers: 10
  default_album: 1

journal:
  driver: sqlite
  dsn: %s
`

// 内置规则 (.DS_Store, Thumbs.db 等) 总是生效，这里只放示例
const ignoreTemplate = `# gitignore 语法，路径相对于媒体库根目录
# Screenshots/
# *.aae
# *.xmp
`

var initCmd = &cobra.Command{
	Use:   "init [library-root]",
	Short: "Write a starter config and ignore file",
	Long:  `Create .gallerysync/config.yaml in the current directory and a default .syncignore in the library root.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 获取当前路径
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		root := wd
		if len(args) > 0 {
			if root, err = filepath.Abs(args[0]); err != nil {
				return err
			}
		}
		return initWorkspace(cmd, wd, root)
	},
}

func initWorkspace(cmd *cobra.Command, wd, root string) error {
	out := cmd.OutOrStdout()

	// 2. 配置目录
	cfgDir := filepath.Join(wd, ".gallerysync")
	cfgPath := filepath.Join(cfgDir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Fprintf(out, "⚠️  Config already exists in %s\n", cfgPath)
	} else {
		if err := os.MkdirAll(cfgDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		content := fmt.Sprintf(configTemplate, root, filepath.Join(cfgDir, "journal.db"))
		if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Wrote %s\n", cfgPath)
	}

	// 3. 默认忽略规则
	ignorePath := filepath.Join(root, ignore.FileName)
	if _, err := os.Stat(ignorePath); err == nil {
		return nil
	}
	if err := os.WriteFile(ignorePath, []byte(ignoreTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ignore.FileName, err)
	}
	fmt.Fprintf(out, "✅ Wrote %s\n", ignorePath)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
