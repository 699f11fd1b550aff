package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yk970217-wq/cleanbear/internal/handler"
)

var (
	inputPath string
	withInfra bool
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "离线执行一次批量派单，结果输出为 JSON",
	RunE:  assignOffline,
}

func init() {
	assignCmd.Flags().StringVarP(&inputPath, "input", "i", "-", "请求 JSON 文件，- 表示标准输入")
	assignCmd.Flags().BoolVar(&withInfra, "with-infra", false, "使用配置中的数据库、缓存和推送")
}

func assignOffline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := readRequest(cmd.InOrStdin(), inputPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, withInfra)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, appErr := a.service.Run(ctx, req)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if appErr != nil {
		return appErr
	}
	return nil
}

func readRequest(stdin io.Reader, path string) (*handler.AssignRequest, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("打开输入文件失败: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req handler.AssignRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("解析请求 JSON 失败: %w", err)
	}
	return &req, nil
}
