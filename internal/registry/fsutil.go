package registry

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyArtifact copies a stored artifact tree to dst, outside managed
// storage. Existing files at dst are overwritten.
func CopyArtifact(src, dst string) error {
	return copyTree(src, dst)
}

// treeSizeBytes sums the sizes of all regular files under path, following
// the tree recursively. A path naming a single regular file returns that
// file's size.
func treeSizeBytes(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return 0, nil
		}
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// copyTree copies src into the directory dst. A directory src has its
// contents merged into dst file-for-file, overwriting existing files; a
// regular file src is copied to dst/<basename>. dst is created if missing.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	if !info.IsDir() {
		return copyFile(src, filepath.Join(dst, filepath.Base(src)))
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Sockets, devices, and symlinks are not artifact content.
			return nil
		}
		return copyFile(path, target)
	})
}

// copyFile copies a regular file, carrying over its permission bits so
// executables in an artifact stay executable after registration and pull.
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

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	// The open mode only applies on create; an overwritten file keeps its
	// old bits unless reset.
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		_ = out.Close()
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
