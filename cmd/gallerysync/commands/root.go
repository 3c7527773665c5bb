package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gallerysync/pkg/app"
	"gallerysync/pkg/config"
	"gallerysync/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	GS *app.App
)

// 不需要连接远端的命令
var offline = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
}

var rootCmd = &cobra.Command{
	Use:           "gallerysync",
	Short:         "Mirror a local photo library into a Piwigo gallery",
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Setup(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format")); err != nil {
			return err
		}
		if offline[cmd.Name()] || (cmd.HasParent() && offline[cmd.Parent().Name()]) {
			return nil
		}

		// 统一初始化 App
		var err error
		GS, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize gallerysync: %w\n(Did you run 'gallerysync init'?)", err)
		}
		return nil
	},
}

// Execute 是入口；Ctrl-C 会取消 ctx，流水线会排空后退出
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if GS != nil {
		if cerr := GS.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "close error:", cerr)
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
	}
	return err
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gallerysync/config.yaml)")

	// 2. 常用配置项做成参数，并绑定到 Viper
	// 用户既可以在 yaml 里写，也可以用参数覆盖
	flags := map[string]string{
		"library":     "library.root",
		"gallery-url": "gallery.url",
		"user":        "gallery.user",
		"log-level":   "log.level",
	}
	rootCmd.PersistentFlags().String("library", "", "Root directory of the local media library")
	rootCmd.PersistentFlags().String("gallery-url", "", "Base URL of the Piwigo server")
	rootCmd.PersistentFlags().String("user", "", "Piwigo user name")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	for flag, key := range flags {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
