// Package repo implements labflow.Repository over the local filesystem
// (spec §6, C2): a root directory under which each workflow gets a
// temporary staging folder, later moved into a permanent per-UUID
// location.
package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/scidag/labflow"
)

// FS is a filesystem-backed labflow.Repository rooted at a single
// directory. No pack library does directory staging/moving better than
// stdlib os/io/path-filepath for this; see DESIGN.md.
type FS struct {
	root string
}

var _ labflow.Repository = (*FS)(nil)

// New returns a Repository rooted at root, creating it if necessary.
func New(root string) (*FS, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("repo: create root: %w", err)
	}
	return &FS{root: root}, nil
}

func (f *FS) abs(folder string) string {
	return filepath.Join(f.root, filepath.FromSlash(folder))
}

// MakeTempFolder allocates tmp/<uuid> under the repository root.
func (f *FS) MakeTempFolder(ctx context.Context) (string, error) {
	folder := filepath.ToSlash(filepath.Join("tmp", labflow.NewID()))
	if err := os.MkdirAll(f.abs(folder), 0o755); err != nil {
		return "", fmt.Errorf("repo: make temp folder: %w", err)
	}
	return folder, nil
}

// MoveInto renames tempFolder to section/uuid, both relative to the
// repository root. Runs exactly once per workflow (C2, P8).
func (f *FS) MoveInto(ctx context.Context, tempFolder, section, uuid string) (string, error) {
	dst := filepath.ToSlash(filepath.Join(section, uuid))
	if err := os.MkdirAll(filepath.Dir(f.abs(dst)), 0o755); err != nil {
		return "", fmt.Errorf("repo: prepare destination: %w", err)
	}
	if err := os.Rename(f.abs(tempFolder), f.abs(dst)); err != nil {
		return "", fmt.Errorf("repo: move into %s: %w", dst, err)
	}
	return dst, nil
}

// InsertPath copies srcAbs (outside the repository) to dstRel inside
// folder.
func (f *FS) InsertPath(ctx context.Context, folder, srcAbs, dstRel string) error {
	dst := filepath.Join(f.abs(folder), filepath.FromSlash(dstRel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("repo: insert path: %w", err)
	}

	src, err := os.Open(srcAbs)
	if err != nil {
		return fmt.Errorf("repo: open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("repo: stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("repo: create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("repo: copy: %w", err)
	}
	return nil
}

// RemovePath removes rel (file or directory tree) from inside folder.
func (f *FS) RemovePath(ctx context.Context, folder, rel string) error {
	target := filepath.Join(f.abs(folder), filepath.FromSlash(rel))
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("repo: remove path: %w", err)
	}
	return nil
}

// AbsPath resolves rel inside folder to an absolute filesystem path.
func (f *FS) AbsPath(folder, rel string) (string, error) {
	target := filepath.Join(f.abs(folder), filepath.FromSlash(rel))
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return "", &labflow.NotExistent{Kind: "path", ID: rel}
		}
		return "", fmt.Errorf("repo: stat: %w", err)
	}
	return target, nil
}

// List lists the direct children of relDir inside folder, as paths
// relative to folder.
func (f *FS) List(ctx context.Context, folder, relDir string) ([]string, error) {
	dir := filepath.Join(f.abs(folder), filepath.FromSlash(relDir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: list: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.ToSlash(filepath.Join(relDir, e.Name())))
	}
	return out, nil
}
