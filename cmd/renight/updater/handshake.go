package updater

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Retzilience/ReNight/config"
)

// Persisted values of the update_state key. An empty or missing value means
// no update is pending.
const (
	stateStaged = "staged"
	stateCopied = "copied"
)

// Handshake coordinates the staged self-replacement across process restarts.
// The persisted store is the only channel between the old process generation
// and the new one: the old process writes a staging record and launches the
// staged binary, and whichever process starts next reads the record to decide
// whether it is the actor expected to finish the swap.
type Handshake struct {
	store    *config.Store
	platform Platform
	log      *zerolog.Logger

	// Replaceable for fault injection under test.
	rename     func(oldpath, newpath string) error
	currentExe func() (string, error)
}

func NewHandshake(store *config.Store, platform Platform, log *zerolog.Logger) *Handshake {
	return &Handshake{
		store:      store,
		platform:   platform,
		log:        log,
		rename:     os.Rename,
		currentExe: os.Executable,
	}
}

// runningExe resolves the canonical path of the running executable.
func (h *Handshake) runningExe() (string, error) {
	exe, err := h.currentExe()
	if err != nil {
		return "", err
	}
	return h.platform.Canonicalize(exe)
}

// Stage records the staged binary for the next process generation and
// launches it. The caller must exit promptly once Stage returns nil so the
// staged process can take over. stageDir is empty when the payload was a
// bare executable that needed no extraction.
func (h *Handshake) Stage(version, stagedExe, stageDir, archivePath string) error {
	exe, err := h.currentExe()
	if err != nil {
		return errors.Wrap(err, "cannot determine the running executable")
	}
	oldExe, err := h.platform.Canonicalize(exe)
	if err != nil {
		return errors.Wrap(err, "cannot resolve the running executable")
	}
	canonStaged, err := h.platform.Canonicalize(stagedExe)
	if err != nil {
		return errors.Wrap(err, "cannot resolve the staged binary")
	}
	if canonStaged == oldExe {
		return errors.New("staged binary resolves to the running executable")
	}

	h.store.Set(config.KeyUpdateState, stateStaged)
	h.store.Set(config.KeyUpdateVersion, version)
	h.store.Set(config.KeyUpdateOldExe, oldExe)
	h.store.Set(config.KeyUpdateStagedExe, canonStaged)
	h.store.Set(config.KeyUpdateStageDir, stageDir)
	h.store.Set(config.KeyUpdateArchive, archivePath)
	h.store.Set(config.KeyUpdateCleanupExe, "")
	if err := h.store.Save(); err != nil {
		return errors.Wrap(err, "cannot persist the staging record")
	}

	if err := h.platform.MarkExecutable(canonStaged); err != nil {
		h.log.Warn().Err(err).Str("path", canonStaged).Msg("Cannot mark staged binary executable")
	}
	if err := h.platform.Launch(canonStaged); err != nil {
		// The record stays staged so launching the new binary by hand
		// still completes the update.
		return errors.Wrap(err, "cannot launch the staged binary")
	}
	h.log.Info().Str("version", version).Msg("Staged update launched, handing off")
	return nil
}

// Resume runs the startup half of the handshake. It must run to completion
// before anything else touches shared files. The return value is true when
// control has been handed to another process generation and the caller must
// exit without further work. Resume never fails: every broken or foreign
// state degrades to "keep running normally".
func (h *Handshake) Resume() bool {
	switch state := h.store.String(config.KeyUpdateState); state {
	case "":
		return false
	case stateStaged:
		return h.resumeStaged()
	case stateCopied:
		h.resumeCopied()
		return false
	default:
		h.log.Warn().Str("state", state).Msg("Unknown update state, resetting")
		h.reset()
		return false
	}
}

func (h *Handshake) resumeStaged() bool {
	stagedExe := h.store.String(config.KeyUpdateStagedExe)
	oldExe := h.store.String(config.KeyUpdateOldExe)
	if stagedExe == "" || oldExe == "" {
		h.log.Warn().Msg("Incomplete staging record, resetting")
		h.reset()
		return false
	}

	runningExe, err := h.runningExe()
	if err != nil {
		h.log.Error().Err(err).Msg("Cannot resolve the running executable")
		return false
	}
	canonStaged, err := h.platform.Canonicalize(stagedExe)
	if err != nil {
		// The staged binary is not visible from here. Leave the record so
		// a launch that can see it still completes the swap.
		h.log.Debug().Err(err).Str("path", stagedExe).Msg("Staged binary not resolvable")
		return false
	}
	if runningExe != canonStaged {
		// Not the staged binary. The swap happens when that one runs.
		return false
	}

	version := h.store.String(config.KeyUpdateVersion)
	if err := h.replace(canonStaged, oldExe); err != nil {
		h.log.Error().Err(err).Str("version", version).Msg("Update failed, keeping the current binary")
		h.reset()
		return false
	}

	h.store.Set(config.KeyUpdateState, stateCopied)
	h.store.Set(config.KeyUpdateCleanupExe, canonStaged)
	if err := h.store.Save(); err != nil {
		// The swap already happened; a repeat from the staged copy is
		// harmless, so relaunch anyway.
		h.log.Error().Err(err).Msg("Cannot persist update state")
	}

	if err := h.platform.Launch(oldExe); err != nil {
		h.log.Error().Err(err).Str("path", oldExe).Msg("Cannot relaunch the updated binary")
		return false
	}
	h.log.Info().Str("version", version).Msg("Update applied, relaunching")
	return true
}

func (h *Handshake) resumeCopied() {
	oldExe := h.store.String(config.KeyUpdateOldExe)
	if oldExe == "" {
		h.log.Warn().Msg("Incomplete copy record, resetting")
		h.reset()
		return
	}

	runningExe, err := h.runningExe()
	if err != nil {
		h.log.Error().Err(err).Msg("Cannot resolve the running executable")
		return
	}
	if runningExe != oldExe {
		// Cleanup waits until the updated binary runs from its permanent
		// location.
		return
	}

	version := h.store.String(config.KeyUpdateVersion)
	h.removeArtifact("staged copy", h.store.String(config.KeyUpdateCleanupExe), false)
	h.removeArtifact("archive", h.store.String(config.KeyUpdateArchive), false)
	h.removeArtifact("staging directory", h.store.String(config.KeyUpdateStageDir), true)
	h.reset()
	h.log.Info().Str("version", version).Msg("Update complete")
}

// replace copies src over dest through a temporary file in dest's directory
// followed by a single rename, so no other process ever observes dest in a
// half-written state. Any failure before the rename leaves dest untouched.
func (h *Handshake) replace(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "cannot open the staged binary")
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".renight-update-*")
	if err != nil {
		return errors.Wrap(err, "cannot create a temporary file next to the destination")
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "cannot copy the staged binary")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "cannot flush the staged copy")
	}
	if err := h.platform.MarkExecutable(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "cannot mark the staged copy executable")
	}
	if err := h.rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "cannot move the update into place")
	}
	return nil
}

// removeArtifact deletes one leftover of a completed update. Deletions are
// independent and best-effort: a failure is logged and never blocks the
// transition back to the steady state.
func (h *Handshake) removeArtifact(kind, path string, recursive bool) {
	if path == "" {
		return
	}
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !os.IsNotExist(err) {
		h.log.Warn().Err(err).Str("path", path).Msgf("Cannot remove %s", kind)
	}
}

// reset clears every update field back to the steady state.
func (h *Handshake) reset() {
	for _, key := range []string{
		config.KeyUpdateState,
		config.KeyUpdateVersion,
		config.KeyUpdateOldExe,
		config.KeyUpdateStagedExe,
		config.KeyUpdateStageDir,
		config.KeyUpdateArchive,
		config.KeyUpdateCleanupExe,
	} {
		h.store.Delete(key)
	}
	if err := h.store.Save(); err != nil {
		h.log.Error().Err(err).Msg("Cannot persist update state")
	}
}
