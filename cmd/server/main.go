// CleanBear 清洁派单服务
// 主程序入口

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yk970217-wq/cleanbear/internal/handler"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "cleanbear",
	Short:         "CleanBear 清洁作业派单服务",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(buildInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.AddCommand(serveCmd, assignCmd, versionCmd)
}

func buildInfo() handler.BuildInfo {
	return handler.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
