//go:build windows

package updater

import (
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
)

// NewPlatform returns the backend for the host OS.
func NewPlatform() Platform {
	return windowsPlatform{}
}

type windowsPlatform struct{}

// Canonicalize stops at an absolute path. Resolving NTFS reparse points can
// fail on perfectly valid install locations, and the handshake only needs a
// stable comparison key.
func (windowsPlatform) Canonicalize(path string) (string, error) {
	return filepath.Abs(path)
}

// MarkExecutable is a no-op: Windows decides executability by extension.
func (windowsPlatform) MarkExecutable(string) error {
	return nil
}

func (windowsPlatform) Launch(path string) error {
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func (windowsPlatform) OpenURL(url string) error {
	cmd := exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
