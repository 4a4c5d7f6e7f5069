package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptorFourFields(t *testing.T) {
	desc := ParseDescriptor("1.2|windows|deprecated|http://x/y.zip", "windows", "1.2")

	require.NotNil(t, desc.Latest)
	assert.Equal(t, "1.2", desc.Latest.Version)
	assert.Equal(t, []string{"deprecated"}, desc.Latest.Flags)
	assert.Equal(t, "http://x/y.zip", desc.Latest.URL)

	require.NotNil(t, desc.Current)
	assert.True(t, desc.Current.HasFlag(FlagDeprecated))
}

func TestParseDescriptorOSMismatch(t *testing.T) {
	desc := ParseDescriptor("1.2|windows|deprecated|http://x/y.zip", "linux", "1.0")
	assert.Nil(t, desc.Latest)
	assert.Nil(t, desc.Current)
}

func TestParseDescriptorOSCaseInsensitive(t *testing.T) {
	desc := ParseDescriptor("1.2|Linux||http://x/y", "linux", "1.0")
	require.NotNil(t, desc.Latest)
	assert.Equal(t, "1.2", desc.Latest.Version)
}

func TestParseDescriptorThreeFieldCompat(t *testing.T) {
	desc := ParseDescriptor("1.2|linux|http://x/y", "linux", "1.0")

	require.NotNil(t, desc.Latest)
	assert.Empty(t, desc.Latest.Flags)
	assert.Equal(t, "http://x/y", desc.Latest.URL)
}

func TestParseDescriptorExtraFieldsIgnored(t *testing.T) {
	desc := ParseDescriptor("1.2|linux|beta,deprecated|http://x/y|junk|more", "linux", "1.0")

	require.NotNil(t, desc.Latest)
	assert.Equal(t, []string{"beta", "deprecated"}, desc.Latest.Flags)
	assert.Equal(t, "http://x/y", desc.Latest.URL)
}

func TestParseDescriptorMalformedAndComments(t *testing.T) {
	text := `# release manifest
1.0|linux
not-even-a-line

1.1|linux||http://x/1.1.tar.gz
`
	desc := ParseDescriptor(text, "linux", "1.0")
	require.NotNil(t, desc.Latest)
	assert.Equal(t, "1.1", desc.Latest.Version)
	assert.Nil(t, desc.Current, "the malformed 1.0 line must not become current")
}

func TestParseDescriptorLatestTieKeepsFirst(t *testing.T) {
	text := "1.1|linux||http://x/first\n1.1|linux||http://x/second\n"
	desc := ParseDescriptor(text, "linux", "0.9")
	require.NotNil(t, desc.Latest)
	assert.Equal(t, "http://x/first", desc.Latest.URL)
}

func TestParseDescriptorPicksGreatestVersion(t *testing.T) {
	text := `0.9|linux||http://x/0.9
1.1|linux||http://x/1.1
1.0|linux||http://x/1.0
`
	desc := ParseDescriptor(text, "linux", "1.0")
	require.NotNil(t, desc.Latest)
	assert.Equal(t, "1.1", desc.Latest.Version)
	require.NotNil(t, desc.Current)
	assert.Equal(t, "http://x/1.0", desc.Current.URL)
}

func TestDescriptorClientFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.1|linux||http://x/1.1\n"))
	}))
	defer server.Close()

	client := NewDescriptorClient(server.URL)
	text, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Contains(t, text, "1.1|linux")
}

func TestDescriptorClientFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewDescriptorClient(server.URL)
	_, err := client.Fetch(context.Background())
	assert.Error(t, err)
}

func TestDescriptorClientInFlightGuard(t *testing.T) {
	var requests int32
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte("1.1|linux||http://x/1.1\n"))
	}))
	defer server.Close()

	client := NewDescriptorClient(server.URL)

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Fetch(context.Background())
		firstDone <- err
	}()

	// Wait for the first fetch to be blocked inside the server handler.
	<-entered

	_, err := client.Fetch(context.Background())
	assert.Equal(t, ErrCheckInFlight, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "the rejected check must not reach the network")

	close(release)
	require.NoError(t, <-firstDone)

	// Once the first fetch completes, a new one is allowed again.
	_, err = client.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}
