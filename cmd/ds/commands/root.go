package commands

import (
	"context"
	"fmt"
	"os"

	"datasafe/pkg/client"
	"datasafe/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// 启动时冻结的配置，供子命令使用
	Settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "ds",
	Short: "Datasafe: safe storage for research data",
	Long: `ds talks to a datasafe server. Every dataset is addressed by a Lab Object
Identifier (LOI) such as 42.1001/ds/exp/sa/42/cwepr/7; a new one is created
under a base LOI and filled exactly once, then updated as a whole.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile); err != nil {
			return err
		}
		s, err := config.Current()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Settings = s
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext 供测试使用
func ExecuteContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ds/config.yaml)")

	// 2. 服务端地址，绑定到 Viper
	// 这样用户既可以在 yaml 里写，也可以用 --server 覆盖
	rootCmd.PersistentFlags().String("server", "", "datasafe server address (host:port)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "overall timeout for one command")
	for key, flag := range map[string]string{
		"client.server":  "server",
		"client.timeout": "timeout",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// GetRemoteClient 按配置创建客户端 (Lazy)
func GetRemoteClient() (*client.DSClient, error) {
	addr := Settings.Client.Server
	if addr == "" {
		return nil, fmt.Errorf("server address not set (use --server or client.server)")
	}
	return client.NewDSClient(addr, client.WithAlgorithm(Settings.Checksum.Algorithm))
}

// withTimeout 给命令加上 client.timeout
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if Settings.Client.Timeout > 0 {
		return context.WithTimeout(ctx, Settings.Client.Timeout)
	}
	return context.WithCancel(ctx)
}

// remote 是所有远程命令共用的骨架：连接、超时、关闭
func remote(cmd *cobra.Command, fn func(ctx context.Context, cli *client.DSClient) error) error {
	cli, err := GetRemoteClient()
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()
	return fn(ctx, cli)
}
