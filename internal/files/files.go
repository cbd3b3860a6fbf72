// Package files renders artefacts to disk the way spec §6 requires:
// atomic, temp-then-rename writes, so a reader never observes a partial
// file. Adapted from the teacher's pkg/nodeagent/files package, which
// solves the identical problem (writing a regular file into place without
// ever exposing a half-written one) for kubelet/containerd config on a
// Kubernetes node; here it backs the DNS zone/config files, the DHCP
// JSON config, the filter rules and RPZ file, and the audit report.
package files

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteAtomic writes content to path with the given permissions by
// writing to a sibling temp file and renaming it into place. A crash or
// concurrent reader during the write observes either the old content or
// nothing changed — never a truncated file.
func WriteAtomic(fsys afero.Fs, path string, content []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", filepath.Base(path), rand.Int63()))

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("closing temp file %s: %w", tmp, err)
	}
	if err := fsys.Chmod(tmp, perm); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("setting permissions on %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Copy copies src to dst, creating dst's parent directory if needed and
// rejecting a src or dst that is not a regular file — the same
// validation the teacher's Copy performs.
func Copy(fsys afero.Fs, src, dst string, perm fs.FileMode) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("stating source %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", src)
	}

	if dstInfo, err := fsys.Stat(dst); err == nil && !dstInfo.Mode().IsRegular() {
		return fmt.Errorf("destination %s exists but is not a regular file", dst)
	}

	content, err := afero.ReadFile(fsys, src)
	if err != nil {
		return fmt.Errorf("reading source %s: %w", src, err)
	}
	return WriteAtomic(fsys, dst, content, perm)
}

// ReadIfExists returns the current content of path, or (nil, false) if
// it does not exist, for last-known-good comparisons before a rewrite.
func ReadIfExists(fsys afero.Fs, path string) ([]byte, bool, error) {
	content, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return content, true, nil
}
