// Package archive implements the external collaborator named in spec §6:
// a tar+gzip folder bundler exposing a single (io.Reader, display name)
// pair. It is consumed by the send-side CLI entrypoint before handing a
// source to the codec; its internal tar/gzip wire format is out of scope
// for this core, but the Go stdlib's archive/tar and compress/gzip are
// used here since they are the idiomatic Go equivalent of the original
// tool's tar+flate2 pairing.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kenneth/deaddrop/internal/apperr"
)

// maxPrefixLen bounds the root folder name written inside the archive so
// that deeply nested files still fit under tar's legacy 100-byte ustar
// path limit; Go's archive/tar already emits GNU long-name extensions for
// anything longer, but a short, readable prefix keeps the common case
// free of those extensions.
const maxPrefixLen = 50

// truncatePrefix shortens name to maxPrefixLen, trimming a trailing
// separator left dangling by the cut.
func truncatePrefix(name string) string {
	if len(name) <= maxPrefixLen {
		return name
	}
	return strings.TrimRight(name[:maxPrefixLen], " -_")
}

// skipDir reports whether a directory entry should be excluded from the
// archive: hidden directories and common build/dependency junk that a
// folder-send would never want to ship.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "target"
}

// Bundle archives one or more files/folders into a single .tar.gz stream
// and returns it alongside a display name suitable for the Drop's
// filename field. Progress, if non-nil, is called with the cumulative
// number of files archived so far.
func Bundle(paths []string, progress func(filesDone, filesTotal int)) (io.Reader, string, error) {
	if len(paths) == 0 {
		return nil, "", apperr.New(apperr.KindConfig, "no paths to bundle")
	}

	total := 0
	for _, p := range paths {
		n, err := countFiles(p)
		if err != nil {
			return nil, "", apperr.Wrap(apperr.KindIO, "count files in "+p, err)
		}
		total += n
	}

	pr, pw := io.Pipe()
	go func() {
		gw := gzip.NewWriter(pw)
		tw := tar.NewWriter(gw)

		done := 0
		var werr error
		for _, p := range paths {
			if werr = addPath(tw, p, &done, total, progress); werr != nil {
				break
			}
		}
		if cerr := tw.Close(); werr == nil {
			werr = cerr
		}
		if cerr := gw.Close(); werr == nil {
			werr = cerr
		}
		pw.CloseWithError(werr)
	}()

	name := displayName(paths)
	return pr, name, nil
}

// displayName picks the archive's filename: the single root's basename
// plus ".tar.gz" when bundling one path, otherwise a generic bundle name.
func displayName(paths []string) string {
	if len(paths) == 1 {
		base := truncatePrefix(filepath.Base(filepath.Clean(paths[0])))
		return base + ".tar.gz"
	}
	return fmt.Sprintf("bundle-%d-files.tar.gz", len(paths))
}

func addPath(tw *tar.Writer, path string, done *int, total int, progress func(int, int)) error {
	info, err := os.Lstat(path)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "stat "+path, err)
	}

	if info.IsDir() {
		root := truncatePrefix(filepath.Base(filepath.Clean(path)))
		return addDirRecursive(tw, path, root, done, total, progress)
	}
	return addFile(tw, path, filepath.Base(path), done, total, progress)
}

func addDirRecursive(tw *tar.Writer, srcDir, archiveDir string, done *int, total int, progress func(int, int)) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "read dir "+srcDir, err)
	}

	hdr := &tar.Header{Name: archiveDir + "/", Typeflag: tar.TypeDir, Mode: 0o755}
	if err := tw.WriteHeader(hdr); err != nil {
		return apperr.Wrap(apperr.KindIO, "write dir header", err)
	}

	for _, entry := range entries {
		srcChild := filepath.Join(srcDir, entry.Name())
		archiveChild := archiveDir + "/" + entry.Name()

		if entry.IsDir() {
			if skipDir(entry.Name()) {
				continue
			}
			if err := addDirRecursive(tw, srcChild, archiveChild, done, total, progress); err != nil {
				return err
			}
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if err := addFile(tw, srcChild, archiveChild, done, total, progress); err != nil {
			return err
		}
	}
	return nil
}

func addFile(tw *tar.Writer, srcPath, archivePath string, done *int, total int, progress func(int, int)) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "open "+srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "stat "+srcPath, err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "build tar header", err)
	}
	hdr.Name = archivePath
	hdr.Mode = 0o644

	if err := tw.WriteHeader(hdr); err != nil {
		return apperr.Wrap(apperr.KindIO, "write file header", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return apperr.Wrap(apperr.KindIO, "copy file contents", err)
	}

	*done++
	if progress != nil {
		progress(*done, total)
	}
	return nil
}

func countFiles(path string) (int, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, nil
	}

	count := 0
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if skipDir(entry.Name()) {
				continue
			}
			n, err := countFiles(filepath.Join(path, entry.Name()))
			if err != nil {
				return 0, err
			}
			count += n
			continue
		}
		count++
	}
	return count, nil
}
