package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// walkFunc is called for every directory and regular file under the root,
// with info describing the link target when path is a symlink.
type walkFunc func(path string, info fs.FileInfo) error

// walkFollow walks root depth-first in lexical order and descends into
// symlinked directories. Each directory is entered once, so link cycles end
// the recursion. Broken links are skipped. The first error stops the walk.
func walkFollow(ctx context.Context, root string, fn walkFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fn(root, info)
	}
	return walkDir(ctx, root, info, map[string]bool{}, fn)
}

func walkDir(ctx context.Context, dir string, info fs.FileInfo, visited map[string]bool, fn walkFunc) error {
	key := dirKey(dir, info)
	if visited[key] {
		return nil
	}
	visited[key] = true

	if err := fn(dir, info); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		switch {
		case info.IsDir():
			if err := walkDir(ctx, path, info, visited, fn); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := fn(path, info); err != nil {
				return err
			}
		}
	}
	return nil
}

// dirKey identifies a directory independent of the links leading to it.
func dirKey(path string, info fs.FileInfo) string {
	if key := fileKey(info); key != "" {
		return key
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return path
}
