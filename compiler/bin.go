package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ZenLiuCN/secondary"
	"github.com/ZenLiuCN/secondary/internal/build"
	"github.com/ZenLiuCN/secondary/internal/logging"
)

func main() {
	app := cli.NewApp()
	app.Usage = "secondary package compiler"
	app.Name = "Compiler"
	app.Description = "compile go sources into secondary packages: go plugins or relocatable objects"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "plugin",
			Action: plugin,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file", Value: "secondary.so"},
			},
			Usage: "build the main package of the working directory as a go plugin",
		},
		{
			Name:   "object",
			Action: object,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package import path, also names the output", Required: true},
			},
			Args:  true,
			Usage: "compile go sources to a relocatable object, the arguments can be list of go sources or '.' for the working directory",
		},
		{
			Name:   "symbols",
			Action: symbols,
			Args:   true,
			Usage:  "list exported symbols of package files",
		},
		{
			Name:   "prepare",
			Action: prepare,
			Usage:  "copy internals of go sdk, required to link objects",
		},
		{
			Name:   "clean",
			Action: clean,
			Usage:  "remove copied internals of go sdk",
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func builder(ctx *cli.Context) (*build.Builder, error) {
	if _, err := exec.LookPath("go"); err != nil {
		return nil, fmt.Errorf("missing go sdk: %w ", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &build.Builder{
		Dir:    wd,
		Logger: logging.New(logging.Level(ctx.Bool("debug")), nil),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

func plugin(ctx *cli.Context) error {
	b, err := builder(ctx)
	if err != nil {
		return err
	}
	return b.Plugin(ctx.Context, ctx.String("out"))
}

func object(ctx *cli.Context) (err error) {
	var b *build.Builder
	if b, err = builder(ctx); err != nil {
		return
	}
	o := ctx.Args().Slice()
	if len(o) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	if len(o) == 1 && o[0] == "." {
		if o, err = build.Sources(b.Dir); err != nil {
			return
		}
		b.Logger.Info("found go sources at working directory", "sources", o)
	}
	pkg := ctx.String("pkg")
	out := pkg[strings.LastIndexByte(pkg, '/')+1:] + ".o"
	return b.Object(ctx.Context, pkg, out, o)
}

func symbols(ctx *cli.Context) error {
	l := logging.New(logging.Level(ctx.Bool("debug")), nil)
	for _, s := range ctx.Args().Slice() {
		p, err := secondary.Open(s, filepath.Join(os.TempDir(), "secondary-outdex"), secondary.WithLogger(l))
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", s)
		for _, n := range p.Symbols() {
			fmt.Printf("\t%s\n", n)
		}
		if err = p.Close(); err != nil {
			return err
		}
	}
	return nil
}

func clean(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	if d {
		log.Printf("clean go sdk: %s", dir)
	}
	if _, err = os.Stat(dir); err != nil {
		if d {
			log.Printf("did nothing for %s", dir)
		}
		return nil
	}
	err = os.RemoveAll(dir)
	if d {
		log.Printf("removed %s", dir)
	}
	return
}

func prepare(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	src := os.ExpandEnv("$GOROOT/src/cmd/internal")
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	if d {
		log.Printf("prepare go sdk from %s to %s", src, dir)
	}
	if _, err = os.Stat(dir); err != nil && os.IsNotExist(err) {
		err = build.CopyDir(src, dir)
		if d {
			log.Printf("copied %s from %s", dir, src)
		}
	} else if d {
		log.Printf("did nothing for %s", dir)
	}
	return
}
