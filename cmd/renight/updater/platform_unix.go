//go:build !windows

package updater

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// NewPlatform returns the backend for the host OS.
func NewPlatform() Platform {
	return unixPlatform{}
}

type unixPlatform struct{}

func (unixPlatform) Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func (unixPlatform) MarkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode().Perm()|0111)
}

// Launch starts the binary in its own session so it survives our exit.
func (unixPlatform) Launch(path string) error {
	cmd := exec.Command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func (unixPlatform) OpenURL(url string) error {
	openers := [][]string{
		{"xdg-open"},
		{"gio", "open"},
		{"open"},
	}
	for _, opener := range openers {
		bin, err := exec.LookPath(opener[0])
		if err != nil {
			continue
		}
		args := append(opener[1:], url)
		cmd := exec.Command(bin, args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := cmd.Start(); err != nil {
			continue
		}
		if err := cmd.Process.Release(); err != nil {
			return err
		}
		return nil
	}
	return errors.New("no URL opener found on this system")
}
