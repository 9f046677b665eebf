package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"shogo-ma/deck-mcp-go/config"
	"shogo-ma/deck-mcp-go/deck"
	"shogo-ma/deck-mcp-go/server"
)

func main() {
	app := &cli.App{
		Name:  "deckserver",
		Usage: "deck-of-cards の MCP サーバーを標準入出力で起動します",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file path (.env)",
				EnvVars: []string{"DECK_CONFIG_PATH"},
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				slog.ErrorContext(ctx, "設定の読み込みに失敗しました", slog.Any("error", err))
				return cli.Exit("設定の読み込みに失敗しました", 1)
			}

			// 標準出力はプロトコル専用
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

			registry := server.NewRegistry()
			if err := deck.Register(registry, deck.NewClient(cfg.DeckAPIBaseURL, nil)); err != nil {
				slog.ErrorContext(ctx, "ケイパビリティの登録に失敗しました", slog.Any("error", err))
				return cli.Exit("ケイパビリティの登録に失敗しました", 1)
			}

			router := server.NewRouter(registry, deck.Info())
			slog.InfoContext(ctx, "MCP サーバーがリクエストを待機しています",
				slog.String("base_url", cfg.DeckAPIBaseURL),
				slog.Int("tools", len(registry.ListTools())),
			)

			if err := server.NewStdioServer(router, os.Stdin, os.Stdout).Serve(ctx); err != nil {
				slog.ErrorContext(ctx, "サーバーが異常終了しました", slog.Any("error", err))
				return cli.Exit("サーバーが異常終了しました", 1)
			}

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("アプリケーションエラー", slog.Any("error", err))
		os.Exit(1)
	}
}
