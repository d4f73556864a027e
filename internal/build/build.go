// Package build produces secondary packages from go sources with the go sdk.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"

	"github.com/ZenLiuCN/secondary/internal/logging"
)

// Builder runs the go tool. Dir is the working directory of every command.
type Builder struct {
	Dir    string
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return logging.NewNop()
	}
	return b.Logger
}

func (b *Builder) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = b.Dir
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	b.logger().Debug("execute", "args", cmd.Args, "dir", b.Dir)
	return cmd
}

// Plugin builds the main package in Dir into a go plugin at out.
func (b *Builder) Plugin(ctx context.Context, out string) error {
	if err := b.command(ctx, "build", "-buildmode=plugin", "-o", out, ".").Run(); err != nil {
		return fmt.Errorf("build plugin: %w", err)
	}
	return nil
}

// Object compiles sources into a relocatable object at out, which must be named
// after the package path of the sources.
func (b *Builder) Object(ctx context.Context, pkg, out string, sources []string) (err error) {
	cfg := filepath.Join(b.Dir, "importcfg")
	if err = b.Imports(ctx, cfg, sources); err != nil {
		return
	}
	defer func() { _ = os.Remove(cfg) }()
	args := append([]string{"tool", "compile", "-importcfg", cfg, "-p", pkg, "-o", out}, sources...)
	if err = b.command(ctx, args...).Run(); err != nil {
		return fmt.Errorf("compile object: %w", err)
	}
	return
}

// Imports generate the importcfg of sources into file.
func (b *Builder) Imports(ctx context.Context, file string, sources []string) (err error) {
	var out []byte
	cmd := b.command(ctx, append([]string{"list", "-export", "-f", "{{.Imports}}"}, sources...)...)
	cmd.Stdout = nil
	if out, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect imports: %w", stderr(err))
	}
	deps := strings.Fields(strings.Trim(strings.TrimSpace(string(out)), "[]"))
	b.logger().Debug("dependencies", "imports", deps)
	cmd = b.command(ctx, append([]string{"list", "-export", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}, deps...)...)
	cmd.Stdout = nil
	if out, err = cmd.Output(); err != nil {
		return fmt.Errorf("inspect dependencies: %w", stderr(err))
	}
	return os.WriteFile(file, out, 0o644)
}

func stderr(err error) error {
	var e *exec.ExitError
	if errors.As(err, &e) && len(e.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(e.Stderr)))
	}
	return err
}

// Sources lists the non test go files of dir.
func Sources(dir string) (v []string, err error) {
	var e []os.DirEntry
	if e, err = os.ReadDir(dir); err != nil {
		return
	}
	for _, entry := range e {
		n := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(n, ".go") && !strings.HasSuffix(n, "_test.go") {
			v = append(v, n)
		}
	}
	return
}

// CopyDir copy the tree src into dest keeping file modes.
func CopyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode fs.FileMode) (err error) {
	var sf, df *os.File
	if sf, err = os.Open(src); err != nil {
		return
	}
	defer fn.IgnoreClose(sf)()
	if df, err = os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm()); err != nil {
		return
	}
	if _, err = io.Copy(df, sf); err != nil {
		_ = df.Close()
		return
	}
	return df.Close()
}
