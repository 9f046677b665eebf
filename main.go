package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"shogo-ma/deck-mcp-go/config"
	"shogo-ma/deck-mcp-go/mcp"
)

func main() {
	app := &cli.App{
		Name:      "deck-mcp-go",
		Usage:     "MCPホストを起動し、deck-of-cards サーバーと対話します",
		ArgsUsage: "<path_to_server | mcp_servers.json>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path (.env)",
				EnvVars: []string{"DECK_CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "server name when the argument is an mcpServers file",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context

			if c.NArg() != 1 {
				return cli.Exit("Usage: deck-mcp-go <path_to_server>", 1)
			}

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				slog.ErrorContext(ctx, "設定の読み込みに失敗しました", slog.Any("error", err))
				return cli.Exit("設定の読み込みに失敗しました", 1)
			}

			if err := cfg.Validate(); err != nil {
				slog.ErrorContext(ctx, "設定が不正です", slog.Any("error", err))
				return cli.Exit(err.Error(), 1)
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

			serverConfig, err := mcp.ResolveServerConfig(c.Args().First(), c.String("server"), map[string]string{
				"DECK_API_BASE_URL": cfg.DeckAPIBaseURL,
				"LOG_LEVEL":         cfg.LogLevel,
			})
			if err != nil {
				slog.ErrorContext(ctx, "サーバー設定の読み込みに失敗しました", slog.Any("error", err))
				return cli.Exit("サーバー設定の読み込みに失敗しました", 1)
			}

			client := mcp.NewClient(serverConfig, cfg.RequestTimeout)
			if err := client.Connect(ctx); err != nil {
				slog.ErrorContext(ctx, "サーバーへの接続に失敗しました", slog.Any("error", err))
				return cli.Exit("サーバーへの接続に失敗しました", 1)
			}
			defer func() {
				if err := client.Close(context.WithoutCancel(ctx)); err != nil {
					slog.WarnContext(ctx, "サーバーの終了処理に失敗しました", slog.Any("error", err))
				}
			}()

			if err := client.Initialize(ctx); err != nil {
				slog.ErrorContext(ctx, "サーバーの初期化に失敗しました", slog.Any("error", err))
				return cli.Exit("サーバーの初期化に失敗しました", 1)
			}

			host := mcp.NewHost(mcp.NewAnthropicModel(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens), client)
			host.TurnContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
				return signal.NotifyContext(ctx, os.Interrupt)
			}

			tools, err := host.LoadTools(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "ホストの起動に失敗しました", slog.Any("error", err))
				return cli.Exit("ホストの起動に失敗しました", 1)
			}

			names := make([]string, 0, len(tools))
			for _, tool := range tools {
				names = append(names, tool.Name)
			}
			fmt.Println("Connected to server with tools:", names)

			if err := host.Run(ctx, os.Stdin, os.Stdout); err != nil {
				slog.ErrorContext(ctx, "セッションを終了します", slog.Any("error", err))
				return cli.Exit("セッションを終了します", 1)
			}

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("アプリケーションエラー", slog.Any("error", err))
		os.Exit(1)
	}
}
