package updater

// Platform abstracts the host-OS operations the staging handshake depends
// on. A fake implementation stands in for it under test.
type Platform interface {
	// Canonicalize resolves path to an absolute form, following symlinks
	// where the OS supports them, so two references to the same binary
	// compare equal.
	Canonicalize(path string) (string, error)
	// MarkExecutable grants execute permission where the OS requires it.
	MarkExecutable(path string) error
	// Launch starts path as a detached process that keeps running after
	// this process exits.
	Launch(path string) error
	// OpenURL shows url in the user's default browser.
	OpenURL(url string) error
}
