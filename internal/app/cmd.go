package app

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期更新ワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandResolve はURLからフィードを検出して標準出力に書き出す。
	CommandResolve Command = "resolve"
)

// NewCLI はサブコマンドを登録したcli.Appを生成する。
// コマンドを省略した場合はserveとして起動する。
func NewCLI(w io.Writer) *cli.App {
	return &cli.App{
		Name:  "feedsync",
		Usage: "Feed discovery and scheduled feed updates",
		Description: `URLやドメイン名からRSS/Atom/JSON Feedを検出して登録し、
		登録済みフィードをドメインごとの間隔を守りながら定期的に更新する。

		設定は環境変数から読み込む（DATABASE_URL は必須）。`,
		Writer:    w,
		ErrWriter: w,
		// エラーはRunの呼び出し元に返し、ここではプロセスを終了しない
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:  string(CommandServe),
				Usage: "Start the HTTP API server",
				Action: func(c *cli.Context) error {
					return runWithConfig(c, w, CommandServe, runServe)
				},
			},
			{
				Name:  string(CommandWorker),
				Usage: "Start the scheduled updater, categorizer and cleanup jobs",
				Action: func(c *cli.Context) error {
					return runWithConfig(c, w, CommandWorker, runWorker)
				},
			},
			{
				Name:  string(CommandMigrate),
				Usage: "Apply database migrations",
				Action: func(c *cli.Context) error {
					return runWithConfig(c, w, CommandMigrate, runMigrate)
				},
			},
			{
				Name:  string(CommandHealthcheck),
				Usage: "Check /health of a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Usage:   "server port",
						EnvVars: []string{"SERVER_PORT"},
						Value:   "8080",
					},
				},
				Action: func(c *cli.Context) error {
					return runHealthcheck(c.String("port"))
				},
			},
			{
				Name:      string(CommandResolve),
				Usage:     "Discover feeds reachable from a URL and print them as JSON",
				ArgsUsage: "<url>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("resolve requires exactly one <url> argument")
					}
					return runWithConfig(c, w, CommandResolve, func(c *cli.Context, env *environment) error {
						return runResolve(c, env, c.Args().First())
					})
				},
			},
		},
		Action: func(c *cli.Context) error {
			return runWithConfig(c, w, CommandServe, runServe)
		},
	}
}
