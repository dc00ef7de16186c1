package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const _workdirPattern = "edgemicro-auth-"

// DevDirs are top-level directories of the auth app that only matter when
// building or testing it locally.
var DevDirs = []string{"bin", "lib", "test"}

// DevModules are node modules the auth app only needs during development.
var DevModules = []string{
	"apigeetool",
	"cli-prompt",
	"commander",
	"cpr",
	"mkdirp",
	"rimraf",
	"should",
	"supertest",
	"tmp",
	"xml2js",
}

var (
	ErrAllocation = errors.New("allocating working directory")
	ErrCopy       = errors.New("copying application")
	ErrPrune      = errors.New("pruning working directory")
)

// Workdir is a transient copy of the auth app. It is owned by whoever called
// Prepare and must be removed by them.
type Workdir struct {
	Path string
}

// Remove deletes the working directory. Calling it more than once is fine.
func (w *Workdir) Remove() error {
	if w == nil || w.Path == "" {
		return nil
	}
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("removing %s: %w", w.Path, err)
	}
	return nil
}

type Preparer struct {
	// Parent is where working directories are allocated. Empty means the OS
	// temp dir.
	Parent  string
	Dirs    []string
	Modules []string
}

func NewPreparer(parent string) *Preparer {
	return &Preparer{
		Parent:  parent,
		Dirs:    DevDirs,
		Modules: DevModules,
	}
}

// Prepare copies source into a fresh working directory and prunes it.
//
// When the directory was allocated but a later step failed, the returned
// Workdir is non-nil alongside the error so the caller can still remove it.
func (p *Preparer) Prepare(ctx context.Context, source string) (*Workdir, error) {
	dir, err := os.MkdirTemp(p.Parent, _workdirPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	wd := &Workdir{Path: dir}
	slog.Debug("Allocated working directory", "path", dir)

	if err := copyTree(ctx, source, dir); err != nil {
		return wd, fmt.Errorf("%w: %w", ErrCopy, err)
	}

	if err := p.Prune(dir); err != nil {
		return wd, err
	}

	return wd, nil
}

// Exclusions lists the paths, relative to the app root, that Prune removes.
func (p *Preparer) Exclusions() []string {
	paths := make([]string, 0, len(p.Dirs)+len(p.Modules))
	paths = append(paths, p.Dirs...)
	for _, mod := range p.Modules {
		paths = append(paths, filepath.Join("node_modules", mod))
	}
	return paths
}

// Prune removes every excluded path from dir. Missing paths are skipped, so
// pruning an already pruned directory is a no-op.
func (p *Preparer) Prune(dir string) error {
	for _, rel := range p.Exclusions() {
		target := filepath.Join(dir, rel)
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("%w: %w", ErrPrune, err)
		}
		slog.Debug("Pruned", "path", target)
	}
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			slog.Debug("Skipping irregular file", "path", path)
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
