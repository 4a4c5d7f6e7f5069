package updater

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Release artifacts ship under these names; the locator prefers them over
// any other runnable file in an extracted payload.
const (
	windowsBinaryName = "renight.exe" // matched case-insensitively
	unixBinaryName    = "ReNight"     // matched exactly
)

var archiveSuffixes = []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tar"}

// IsArchivePath reports whether the downloaded payload needs extraction.
// Anything without a recognized archive suffix is treated as an already
// runnable binary.
func IsArchivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// StageDirName names a fresh extraction root for one staging attempt.
func StageDirName(version string, now time.Time) string {
	safe := strings.ReplaceAll(version, "/", "_")
	return fmt.Sprintf("stage-%s-%d", safe, now.Unix())
}

// ExtractResult is delivered on the channel returned by ExtractAsync.
type ExtractResult struct {
	ExecPath string
	Err      error
}

// ExtractAsync runs Extract on its own goroutine so a large archive never
// blocks the caller; the single result arrives on the returned channel.
func ExtractAsync(archivePath, stageDir string) <-chan ExtractResult {
	ch := make(chan ExtractResult, 1)
	go func() {
		execPath, err := Extract(archivePath, stageDir)
		ch <- ExtractResult{ExecPath: execPath, Err: err}
	}()
	return ch
}

// Extract unpacks archivePath into stageDir and locates the runnable binary
// inside it. The payload is dispatched on its file extension; unsupported
// formats are rejected rather than guessed at.
func Extract(archivePath, stageDir string) (string, error) {
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return "", errors.Wrap(err, "cannot create staging directory")
	}

	lower := strings.ToLower(archivePath)
	var err error
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = unzip(archivePath, stageDir)
	case strings.HasSuffix(lower, ".tar.gz"),
		strings.HasSuffix(lower, ".tgz"),
		strings.HasSuffix(lower, ".tar.bz2"),
		strings.HasSuffix(lower, ".tar"):
		err = untar(archivePath, stageDir)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return "", errors.Wrap(err, "extraction failed")
	}

	return LocateExecutable(stageDir)
}

// LocateExecutable walks an extraction root for the binary to stage.
func LocateExecutable(stageDir string) (string, error) {
	return locateExecutable(stageDir, runtime.GOOS == "windows")
}

// locateExecutable applies the platform heuristic: on Windows, prefer the
// product executable name among .exe files, else the first .exe; elsewhere,
// prefer the exact product name among files with any executable bit set,
// else the first such file. Walk order is lexical, so "first" is stable.
func locateExecutable(root string, forWindows bool) (string, error) {
	var candidates []string
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		if forWindows {
			if strings.EqualFold(filepath.Ext(path), ".exe") {
				candidates = append(candidates, path)
			}
			return nil
		}
		if info.Mode().Perm()&0111 != 0 {
			candidates = append(candidates, path)
		}
		return nil
	})
	if walkErr != nil {
		return "", errors.Wrap(walkErr, "cannot scan extracted update")
	}
	if len(candidates) == 0 {
		return "", errors.New("no runnable binary found in the extracted update")
	}

	for _, path := range candidates {
		if forWindows {
			if strings.EqualFold(filepath.Base(path), windowsBinaryName) {
				return path, nil
			}
		} else if filepath.Base(path) == unixBinaryName {
			return path, nil
		}
	}
	return candidates[0], nil
}

// sanitizeExtractPath refuses archive entries that would escape the staging
// directory via ".." or absolute names.
func sanitizeExtractPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	cleanDest := filepath.Clean(dest)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the staging directory", name)
	}
	return target, nil
}

func unzip(archivePath, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := sanitizeExtractPath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func untar(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	lower := strings.ToLower(archivePath)
	var r io.Reader = f
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	case strings.HasSuffix(lower, ".tar.bz2"):
		r = bzip2.NewReader(f)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := sanitizeExtractPath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Links pointing outside the staging directory are dropped.
			if filepath.IsAbs(hdr.Linkname) {
				continue
			}
			if _, err := sanitizeExtractPath(filepath.Dir(target), hdr.Linkname); err != nil {
				continue
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}
