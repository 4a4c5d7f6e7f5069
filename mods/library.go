// Package mods manages the WAD library inside the Nightdive port's game
// folder: importing files by symlink or copy, classifying what is already
// there, and deleting entries together with their recorded metadata.
package mods

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Class labels how a library entry relates to its source.
type Class string

const (
	// ClassSymlink marks a symlink into the PWAD tree.
	ClassSymlink Class = "(SL)"
	// ClassCopy marks a copy whose source is still known.
	ClassCopy Class = "(CPY)"
	// ClassOnly marks a file that exists only in the game folder.
	ClassOnly Class = "(ONL)"
)

// Entry is one scanned file in the game folder.
type Entry struct {
	Name  string
	Class Class
}

// Record is the persisted metadata for one imported mod.
type Record struct {
	Source string `json:"source"`
	Mode   string `json:"mode"`
	MD5    string `json:"md5,omitempty"`
}

const (
	modeSymlink = "symlink"
	modeCopy    = "copy"
)

// Options configure a Library.
type Options struct {
	NightdiveFolder string
	PWADFolder      string
	Symlink         bool
	// MetadataPath locates the mod metadata file, ReNight_mods.json in the
	// config directory.
	MetadataPath string
	Hashes       *HashCache
	Log          *zerolog.Logger
}

// Library manages WAD files in the Nightdive game folder.
type Library struct {
	nightdiveFolder string
	pwadFolder      string
	symlink         bool
	metadataPath    string
	metadata        map[string]Record
	hashes          *HashCache
	log             *zerolog.Logger
}

func NewLibrary(opts Options) *Library {
	l := &Library{
		nightdiveFolder: filepath.Clean(opts.NightdiveFolder),
		pwadFolder:      filepath.Clean(opts.PWADFolder),
		symlink:         opts.Symlink,
		metadataPath:    opts.MetadataPath,
		hashes:          opts.Hashes,
		log:             opts.Log,
	}
	if l.hashes == nil {
		l.hashes, _ = OpenHashCache("")
	}
	l.loadMetadata()
	return l
}

// NightdiveFolder returns the folder WADs are imported into.
func (l *Library) NightdiveFolder() string {
	return l.nightdiveFolder
}

// PWADFolder returns the source collection folder, "." when unset.
func (l *Library) PWADFolder() string {
	return l.pwadFolder
}

// ImportResult reports the outcome of one Import call. Messages are in
// import order and meant to be shown to the user verbatim.
type ImportResult struct {
	AnySuccess bool
	AnyFailure bool
	Messages   []string
}

func (r *ImportResult) ok(format string, args ...interface{}) {
	r.AnySuccess = true
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

func (r *ImportResult) fail(format string, args ...interface{}) {
	r.AnyFailure = true
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Import brings the given WADs into the game folder, as symlinks or copies
// depending on the configured mode. Each source is handled independently;
// one failure never aborts the rest.
func (l *Library) Import(paths []string) *ImportResult {
	res := &ImportResult{}

	if len(paths) == 0 {
		res.fail("No files selected for import.")
		return res
	}
	if !dirExists(l.nightdiveFolder) {
		res.fail("Nightdive folder does not exist: %s", l.nightdiveFolder)
		return res
	}

	for _, wadPath := range paths {
		if !fileExists(wadPath) {
			res.fail("Source file not found: %s", wadPath)
			continue
		}

		source := wadPath
		if abs, err := filepath.Abs(wadPath); err == nil {
			source = abs
		}

		destName := filepath.Base(wadPath)
		destPath := filepath.Join(l.nightdiveFolder, destName)

		if l.symlink {
			if _, err := os.Lstat(destPath); err == nil {
				if err := os.Remove(destPath); err != nil {
					res.fail("Error processing %s: %v", wadPath, err)
					continue
				}
			}
			if err := os.Symlink(source, destPath); err != nil {
				res.fail("Error processing %s: %v", wadPath, err)
				continue
			}
			l.metadata[destName] = Record{Source: filepath.Clean(source), Mode: modeSymlink}
			res.ok("Created symlink for: %s", destPath)
			continue
		}

		// Copy mode: a destination with the same name but different
		// content gets a fresh suffixed name instead of being clobbered.
		srcMD5, err := l.hashes.MD5(wadPath)
		if err != nil {
			res.fail("Error reading %s: %v", wadPath, err)
			continue
		}
		if fileExists(destPath) {
			existingMD5, err := l.hashes.MD5(destPath)
			if err == nil && existingMD5 != srcMD5 {
				destName = uniqueDestName(destName, l.nightdiveFolder)
				destPath = filepath.Join(l.nightdiveFolder, destName)
			}
		}

		if _, err := os.Lstat(destPath); err == nil {
			if err := os.Remove(destPath); err != nil {
				res.fail("Error processing %s: %v", wadPath, err)
				continue
			}
		}
		if err := copyFile(wadPath, destPath); err != nil {
			res.fail("Error processing %s: %v", wadPath, err)
			continue
		}
		l.metadata[destName] = Record{Source: filepath.Clean(source), Mode: modeCopy, MD5: srcMD5}
		res.ok("Copied file to: %s", destPath)
	}

	l.saveMetadata()
	return res
}

// Scan classifies every WAD and symlink in the game folder. Classification
// is recomputed on every call: metadata is trusted only while its recorded
// source file still exists, otherwise the file's digest is compared against
// the PWAD tree, and entries with no surviving match are downgraded and
// their stale metadata removed.
func (l *Library) Scan() []Entry {
	var entries []Entry
	if !dirExists(l.nightdiveFolder) {
		return entries
	}

	dirEntries, err := os.ReadDir(l.nightdiveFolder)
	if err != nil {
		l.log.Warn().Err(err).Str("folder", l.nightdiveFolder).Msg("Cannot list Nightdive folder")
		return entries
	}

	pwadIndex := l.indexPWADTree()
	seen := make(map[string]bool)
	changed := false

	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		fullPath := filepath.Join(l.nightdiveFolder, name)
		isLink := dirEntry.Type()&os.ModeSymlink != 0

		if !strings.HasSuffix(strings.ToLower(name), ".wad") && !isLink {
			continue
		}
		seen[name] = true

		if isLink {
			entries = append(entries, Entry{Name: name, Class: ClassSymlink})
			continue
		}

		class := ClassOnly
		destMD5, err := l.hashes.MD5(fullPath)
		if err != nil {
			destMD5 = ""
		}

		meta, hasMeta := l.metadata[name]
		usedMetadata := false
		if destMD5 != "" && meta.Mode == modeCopy && meta.Source != "" && fileExists(meta.Source) {
			if meta.MD5 != "" && meta.MD5 != destMD5 {
				meta.MD5 = destMD5
				l.metadata[name] = meta
				changed = true
			}
			class = ClassCopy
			usedMetadata = true
		} else if hasMeta {
			delete(l.metadata, name)
			changed = true
		}

		if !usedMetadata && destMD5 != "" {
			for _, srcPath := range pwadIndex[strings.ToLower(name)] {
				srcMD5, err := l.hashes.MD5(srcPath)
				if err != nil {
					continue
				}
				if srcMD5 == destMD5 {
					class = ClassCopy
					l.metadata[name] = Record{Source: filepath.Clean(srcPath), Mode: modeCopy, MD5: destMD5}
					changed = true
					break
				}
			}
		}

		entries = append(entries, Entry{Name: name, Class: class})
	}

	for name := range l.metadata {
		if !seen[name] {
			delete(l.metadata, name)
			changed = true
		}
	}

	if changed {
		l.saveMetadata()
	}
	return entries
}

// Delete removes the named mods from the game folder together with their
// metadata. Each name is handled independently; the returned messages are
// meant for the user verbatim.
func (l *Library) Delete(names []string) []string {
	var messages []string
	changed := false

	for _, name := range names {
		fullPath := filepath.Join(l.nightdiveFolder, name)
		if _, err := os.Lstat(fullPath); err != nil {
			messages = append(messages, fmt.Sprintf("Mod not found: %s", fullPath))
			continue
		}
		if err := os.Remove(fullPath); err != nil {
			messages = append(messages, fmt.Sprintf("Error deleting %s: %v", fullPath, err))
			continue
		}
		delete(l.metadata, name)
		changed = true
		messages = append(messages, fmt.Sprintf("Deleted mod: %s", fullPath))
	}

	if changed {
		l.saveMetadata()
	}
	return messages
}

// indexPWADTree maps lower-cased WAD basenames to every path carrying that
// name under the PWAD folder.
func (l *Library) indexPWADTree() map[string][]string {
	index := make(map[string][]string)
	pwadFolder := strings.TrimSpace(l.pwadFolder)
	if pwadFolder == "" || pwadFolder == "." || !dirExists(pwadFolder) {
		return index
	}
	_ = filepath.Walk(pwadFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(info.Name()), ".wad") {
			key := strings.ToLower(info.Name())
			index[key] = append(index[key], path)
		}
		return nil
	})
	return index
}

func (l *Library) loadMetadata() {
	l.metadata = make(map[string]Record)
	raw, err := os.ReadFile(l.metadataPath)
	if err != nil {
		return
	}
	var data map[string]Record
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		l.log.Warn().Err(err).Str("path", l.metadataPath).Msg("Cannot parse mod metadata, starting fresh")
		return
	}
	l.metadata = data
}

func (l *Library) saveMetadata() {
	raw, err := json.MarshalIndent(l.metadata, "", "    ")
	if err != nil {
		l.log.Error().Err(err).Msg("Cannot encode mod metadata")
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.metadataPath), 0755); err != nil {
		l.log.Error().Err(err).Msg("Cannot create metadata directory")
		return
	}
	if err := os.WriteFile(l.metadataPath, raw, 0644); err != nil {
		l.log.Error().Err(err).Str("path", l.metadataPath).Msg("Cannot save mod metadata")
	}
}

// uniqueDestName appends "-2", "-3", ... before the extension until the
// name is free in folder.
func uniqueDestName(baseName, folder string) string {
	ext := filepath.Ext(baseName)
	stem := strings.TrimSuffix(baseName, ext)
	candidate := baseName
	for counter := 2; ; counter++ {
		if _, err := os.Lstat(filepath.Join(folder, candidate)); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, counter, ext)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
