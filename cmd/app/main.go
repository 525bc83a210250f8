package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigPath(configPath),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

// openInput returns stdin when name is empty or "-".
func openInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

func execOperation(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 {
		return fmt.Errorf("usage: exec <operation> [inputs.json]")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	in, err := openInput(cmd.Args().Get(1))
	if err != nil {
		return err
	}
	defer in.Close()

	return internal.Exec(ctx, cmd.Args().First(), in, opts...)
}

func present(_ context.Context, cmd *cli.Command) error {
	in, err := openInput(cmd.Args().First())
	if err != nil {
		return err
	}
	defer in.Close()
	return internal.Present(in, os.Stdout)
}

func main() {
	cmd := &cli.Command{
		Name:   "ansuz",
		Usage:  "Document intelligence gateway routing note operations to a hosted service or a local model",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP gateway",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the operations as MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:      "exec",
				Usage:     "Run a single operation with JSON inputs",
				ArgsUsage: "<operation> [inputs.json|-]",
				Action:    execOperation,
			},
			{
				Name:      "present",
				Usage:     "Render a tool invocation as text",
				ArgsUsage: "[invocation.json|-]",
				Action:    present,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
