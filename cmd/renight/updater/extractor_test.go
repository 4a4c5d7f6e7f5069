//go:build !windows

package updater

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveEntry struct {
	name string
	body string
	mode os.FileMode
}

func writeZipArchive(t *testing.T, path string, entries []archiveEntry) {
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		hdr.SetMode(e.mode)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeTarArchive(t *testing.T, path string, gzipped bool, entries []archiveEntry) {
	f, err := os.Create(path)
	require.NoError(t, err)
	var w io.WriteCloser = f
	if gzipped {
		w = gzip.NewWriter(f)
	}
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name: e.name,
			Mode: int64(e.mode),
			Size: int64(len(e.body)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = io.WriteString(tw, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	if gzipped {
		require.NoError(t, w.Close())
	}
	require.NoError(t, f.Close())
}

func TestIsArchivePath(t *testing.T) {
	for _, tc := range []struct {
		path    string
		archive bool
	}{
		{"ReNight-1.2.0.zip", true},
		{"ReNight-1.2.0.ZIP", true},
		{"renight.tar.gz", true},
		{"renight.tgz", true},
		{"renight.tar.bz2", true},
		{"renight.tar", true},
		{"ReNight.exe", false},
		{"ReNight", false},
		{"notes.txt", false},
	} {
		assert.Equal(t, tc.archive, IsArchivePath(tc.path), tc.path)
	}
}

func TestStageDirName(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "stage-1.2.0-1700000000", StageDirName("1.2.0", now))
	// Slashes in odd version strings must not create nested directories.
	assert.Equal(t, "stage-nightly_42-1700000000", StageDirName("nightly/42", now))
}

func TestExtractZipLocatesPreferredBinary(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "ReNight-1.2.0.zip")
	writeZipArchive(t, archive, []archiveEntry{
		{"ReNight-1.2.0/README.md", "docs", 0644},
		{"ReNight-1.2.0/bin/AAA-launcher", "#!/bin/sh\n", 0755},
		{"ReNight-1.2.0/bin/ReNight", "binary-payload", 0755},
	})

	stageDir := filepath.Join(dir, "stage")
	execPath, err := Extract(archive, stageDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(stageDir, "ReNight-1.2.0/bin/ReNight"), execPath)

	content, err := os.ReadFile(execPath)
	require.NoError(t, err)
	assert.Equal(t, "binary-payload", string(content))

	info, err := os.Stat(execPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0111)
}

func TestExtractTarVariants(t *testing.T) {
	for _, tc := range []struct {
		suffix  string
		gzipped bool
	}{
		{".tar", false},
		{".tar.gz", true},
		{".tgz", true},
	} {
		t.Run(tc.suffix, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "ReNight-2.0"+tc.suffix)
			writeTarArchive(t, archive, tc.gzipped, []archiveEntry{
				{"ReNight-2.0/ReNight", "tar-payload", 0755},
				{"ReNight-2.0/soundfont.sf2", "notes", 0644},
			})

			stageDir := filepath.Join(dir, "stage")
			execPath, err := Extract(archive, stageDir)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(stageDir, "ReNight-2.0/ReNight"), execPath)

			content, err := os.ReadFile(execPath)
			require.NoError(t, err)
			assert.Equal(t, "tar-payload", string(content))
		})
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZipArchive(t, archive, []archiveEntry{
		{"../evil.sh", "#!/bin/sh\n", 0755},
	})

	_, err := Extract(archive, filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the staging directory")
	assert.NoFileExists(t, filepath.Join(dir, "evil.sh"))
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "payload.rar")
	require.NoError(t, os.WriteFile(archive, []byte("not really"), 0644))

	_, err := Extract(archive, filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive format")
}

func TestExtractNoRunnableBinary(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "docs.zip")
	writeZipArchive(t, archive, []archiveEntry{
		{"README.md", "docs only", 0644},
	})

	_, err := Extract(archive, filepath.Join(dir, "stage"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runnable binary")
}

func TestLocateExecutableWindowsHeuristic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"AAA-setup.exe", "RENIGHT.EXE", "readme.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	execPath, err := locateExecutable(dir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "RENIGHT.EXE"), execPath)
}

func TestLocateExecutableWindowsFallsBackToFirstExe(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"beta.exe", "alpha.exe", "zeta.exe"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	execPath, err := locateExecutable(dir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "alpha.exe"), execPath)
}

func TestExtractAsyncDeliversResult(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "ReNight.zip")
	writeZipArchive(t, archive, []archiveEntry{
		{"ReNight", "payload", 0755},
	})

	result := <-ExtractAsync(archive, filepath.Join(dir, "stage"))
	require.NoError(t, result.Err)
	assert.Equal(t, filepath.Join(dir, "stage", "ReNight"), result.ExecPath)
}
