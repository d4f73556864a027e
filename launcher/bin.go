package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"

	"github.com/ZenLiuCN/secondary/host"
	"github.com/ZenLiuCN/secondary/internal/logging"
	_ "github.com/ZenLiuCN/secondary/sample"
)

func main() {
	app := cli.NewApp()
	app.Name = "launcher"
	app.Usage = "stage the bundled secondary package and load code from it"
	app.Description = "launcher copies the secondary package into private storage on first run, then resolves and invokes implementations from it"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "yaml configuration file"},
		&cli.StringFlag{Name: "storage", Aliases: []string{"s"}, Usage: "private storage root"},
		&cli.StringFlag{Name: "assets", Aliases: []string{"a"}, Usage: "stage from this directory instead of the embedded assets"},
		&cli.StringFlag{Name: "package", Aliases: []string{"p"}, Usage: "asset name of the package, its extension selects the format"},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
		&cli.BoolFlag{Name: "metrics", Aliases: []string{"m"}, Usage: "print metrics before exit"},
	}
	app.Action = run
	app.After = metrics
	app.Commands = []*cli.Command{
		{Name: "run", Action: run, Usage: "stage, then run the typed and the reflective demonstration"},
		{Name: "stage", Action: stage, Usage: "stage the package if not staged yet"},
		{Name: "toast", Action: toast, Usage: "typed invocation of the library"},
		{Name: "second", Action: second, Usage: "reflective invocation of the secondary activity"},
		{Name: "symbols", Action: symbols, Usage: "list symbols of the staged package"},
		{Name: "inspect", Action: inspect, Usage: "resolve symbols and dump the instances", Args: true},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func controller(ctx *cli.Context) (c *host.Controller, err error) {
	var cfg host.Config
	if cfg, err = host.LoadConfig(ctx.String("config")); err != nil {
		return
	}
	if s := ctx.String("storage"); s != "" {
		cfg.Storage = s
	}
	if s := ctx.String("package"); s != "" {
		cfg.Package = s
	}
	if ctx.Bool("debug") {
		cfg.Debug = true
	}
	opts := []host.Option{host.WithLogger(logging.New(logging.Level(cfg.Debug), nil))}
	if dir := ctx.String("assets"); dir != "" {
		opts = append(opts, host.WithAssets(os.DirFS(dir)))
	}
	return host.New(cfg, host.NewConsole(os.Stdout), opts...), nil
}

func withController(ctx *cli.Context, f func(context.Context, *host.Controller) error) error {
	c, err := controller(ctx)
	if err != nil {
		return err
	}
	sig, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()
	defer func() {
		if err := c.Close(); err != nil {
			log.Printf("close: %s", err)
		}
	}()
	return f(sig, c)
}

func prepare(ctx context.Context, c *host.Controller) error {
	t, err := c.Start(ctx)
	if err != nil || t == nil {
		return err
	}
	_, err = t.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.Cancel()
	}
	return err
}

func run(ctx *cli.Context) error {
	return withController(ctx, func(ctx context.Context, c *host.Controller) error {
		if err := prepare(ctx, c); err != nil {
			return err
		}
		if err := c.ShowToast(ctx); err != nil {
			return err
		}
		return c.StartSecondary(ctx)
	})
}

func stage(ctx *cli.Context) error {
	return withController(ctx, prepare)
}

func toast(ctx *cli.Context) error {
	return withController(ctx, func(ctx context.Context, c *host.Controller) error {
		return c.ShowToast(ctx)
	})
}

func second(ctx *cli.Context) error {
	return withController(ctx, func(ctx context.Context, c *host.Controller) error {
		return c.StartSecondary(ctx)
	})
}

func symbols(ctx *cli.Context) error {
	return withController(ctx, func(_ context.Context, c *host.Controller) error {
		s, err := c.Symbols()
		if err != nil {
			return err
		}
		for _, n := range s {
			fmt.Println(n)
		}
		return nil
	})
}

func inspect(ctx *cli.Context) error {
	names := ctx.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("missing symbol names")
	}
	return withController(ctx, func(cx context.Context, c *host.Controller) error {
		sp := spew.NewDefaultConfig()
		sp.MaxDepth = 5
		for _, n := range names {
			h, err := c.Resolve(cx, n)
			if err != nil {
				return err
			}
			sp.Dump(n, h.Value)
			_ = h.Close()
		}
		return nil
	})
}

func metrics(ctx *cli.Context) error {
	if !ctx.Bool("metrics") {
		return nil
	}
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err = expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			return err
		}
	}
	return nil
}
