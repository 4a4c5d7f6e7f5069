package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// downloadIdleTimeout aborts a transfer when no bytes arrive for a full
	// window. It is reset on every received chunk, so a slow but progressing
	// download never times out; only a connection that stalls does.
	downloadIdleTimeout = 15 * time.Second

	downloadBufferSize = 32 * 1024
)

// ErrEmptyPayload means the download completed but produced a zero-byte file.
var ErrEmptyPayload = errors.New("downloaded update file is empty")

// StagedDownload is a payload sitting in the updates directory, not yet
// extracted or persisted anywhere.
type StagedDownload struct {
	Path string
	Size int64
}

// Stager streams release payloads into the updates directory. Nothing a
// Stager does mutates persisted update state; a failed download only leaves
// a partial file under updates/, which a later completed handshake removes.
type Stager struct {
	updatesRoot string
	client      *http.Client
	log         *zerolog.Logger
	idleTimeout time.Duration
}

func NewStager(updatesRoot string, log *zerolog.Logger) *Stager {
	return &Stager{
		updatesRoot: updatesRoot,
		client:      &http.Client{},
		log:         log,
		idleTimeout: downloadIdleTimeout,
	}
}

// payloadFileName picks the local file name for a download: the last path
// segment of the URL, or a version-derived name when the URL has none.
func payloadFileName(downloadURL, version string) string {
	name := downloadURL
	if u, err := url.Parse(downloadURL); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		name = "ReNight-" + version
	}
	return name
}

// Download fetches url into the updates directory, watching for stalls.
func (s *Stager) Download(ctx context.Context, downloadURL, version string) (StagedDownload, error) {
	if err := os.MkdirAll(s.updatesRoot, 0755); err != nil {
		return StagedDownload{}, errors.Wrap(err, "cannot create updates directory")
	}

	dest := filepath.Join(s.updatesRoot, payloadFileName(downloadURL, version))
	log := s.log.With().
		Str("session", uuid.NewString()).
		Str("version", version).
		Str("dest", dest).
		Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return StagedDownload{}, errors.Wrap(err, "cannot build download request")
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	watchdog := time.AfterFunc(s.idleTimeout, cancel)
	defer watchdog.Stop()

	resp, err := s.client.Do(req)
	if err != nil {
		return StagedDownload{}, errors.Wrap(err, "cannot download update")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StagedDownload{}, fmt.Errorf("update download returned %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return StagedDownload{}, errors.Wrap(err, "cannot open update file for writing")
	}

	var written int64
	buf := make([]byte, downloadBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(s.idleTimeout)
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return StagedDownload{}, errors.Wrap(werr, "cannot write update payload")
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			if ctx.Err() != nil {
				return StagedDownload{}, errors.New("download aborted: no data received within the idle window")
			}
			return StagedDownload{}, errors.Wrap(rerr, "download interrupted")
		}
	}

	if err := out.Close(); err != nil {
		return StagedDownload{}, errors.Wrap(err, "cannot finish writing update payload")
	}

	if written == 0 {
		return StagedDownload{}, ErrEmptyPayload
	}

	log.Debug().Int64("bytes", written).Msg("downloaded update payload")
	return StagedDownload{Path: dest, Size: written}, nil
}
