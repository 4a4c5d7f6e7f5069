package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DescriptorURL is where the release manifest for all platforms lives.
	DescriptorURL = "https://raw.githubusercontent.com/Retzilience/ReNight/main/version.upd"

	// ReleasesURL is offered to the user whenever automatic staging cannot
	// proceed.
	ReleasesURL = "https://github.com/Retzilience/ReNight/releases/latest"

	// FlagDeprecated marks a descriptor entry whose version must not keep
	// running without updating.
	FlagDeprecated = "deprecated"

	descriptorTimeout = 8 * time.Second
)

var (
	// ErrCheckInFlight rejects a descriptor fetch issued while another is
	// still outstanding. The second request is refused outright, not queued.
	ErrCheckInFlight = errors.New("an update check is already in flight")

	// ErrUnknownOS means the running platform has no descriptor tag.
	ErrUnknownOS = errors.New("no update descriptor tag for this platform")
)

var userAgent = ""

// Init sets the User-Agent sent with descriptor and payload requests.
func Init(agent string) {
	userAgent = agent
}

// UpdateEntry is one release line of the descriptor that matched the running
// platform. Immutable once parsed.
type UpdateEntry struct {
	Version string
	Flags   []string
	URL     string
}

// HasFlag reports whether the entry carries the named flag. Flags are
// normalized to lower case at parse time.
func (e *UpdateEntry) HasFlag(name string) bool {
	for _, f := range e.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// OSTag returns the descriptor platform tag for the running OS, or "" when
// the platform has no release channel.
func OSTag() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	}
	return ""
}

// Descriptor is the parse result for one platform: the newest matching entry
// and the entry for the version currently running, either of which can be
// absent.
type Descriptor struct {
	Latest  *UpdateEntry
	Current *UpdateEntry
}

// ParseDescriptor reads the line-oriented release manifest.
//
// Each line is `version|os|flags,flags,...|download_url`. Blank lines and
// lines starting with '#' are ignored. A line with exactly 3 fields is the
// legacy form `version|os|url` with no flags; a line with more than 4 fields
// keeps the first 4; fewer than 3 fields is malformed and skipped. Lines
// whose os field does not case-insensitively equal osTag are skipped.
func ParseDescriptor(text, osTag, runningVersion string) Descriptor {
	var desc Descriptor

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 3 {
			continue
		}

		if !strings.EqualFold(parts[1], osTag) {
			continue
		}

		var flagsField, url string
		if len(parts) == 3 {
			url = parts[2]
		} else {
			flagsField = parts[2]
			url = parts[3]
		}

		var flags []string
		for _, f := range strings.Split(flagsField, ",") {
			f = strings.ToLower(strings.TrimSpace(f))
			if f != "" {
				flags = append(flags, f)
			}
		}

		entry := &UpdateEntry{Version: parts[0], Flags: flags, URL: url}

		if desc.Latest == nil || CompareVersions(entry.Version, desc.Latest.Version) > 0 {
			desc.Latest = entry
		}
		if CompareVersions(entry.Version, runningVersion) == 0 {
			desc.Current = entry
		}
	}

	return desc
}

// DescriptorClient fetches the release manifest with a hard deadline and an
// explicit in-flight guard: at most one fetch may be outstanding, and a
// concurrent second call fails immediately without touching the network.
type DescriptorClient struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	inFlight bool
}

func NewDescriptorClient(url string) *DescriptorClient {
	if url == "" {
		url = DescriptorURL
	}
	return &DescriptorClient{
		url:    url,
		client: &http.Client{Timeout: descriptorTimeout},
	}
}

// Fetch retrieves the raw descriptor text.
func (c *DescriptorClient) Fetch(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return "", ErrCheckInFlight
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, descriptorTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", errors.Wrap(err, "cannot build descriptor request")
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "cannot fetch update descriptor")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("update descriptor request returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "cannot read update descriptor")
	}
	return string(body), nil
}
