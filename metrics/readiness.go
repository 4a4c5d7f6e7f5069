package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReadyServer serves HTTP 200 once the watch daemon has completed its first
// library scan. Intended for k8s-style readiness checks.
type ReadyServer struct {
	mu       sync.RWMutex
	ready    bool
	lastScan time.Time
}

func NewReadyServer() *ReadyServer {
	return &ReadyServer{}
}

// SetReady flips the readiness state.
func (rs *ReadyServer) SetReady(ready bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.ready = ready
}

// RecordScan notes when the most recent library scan finished.
func (rs *ReadyServer) RecordScan(at time.Time) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lastScan = at
}

type readyBody struct {
	Status   int    `json:"status"`
	LastScan string `json:"lastScan,omitempty"`
}

func (rs *ReadyServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	statusCode, lastScan := rs.makeResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	body := readyBody{Status: statusCode}
	if !lastScan.IsZero() {
		body.LastScan = lastScan.Format(time.RFC3339)
	}
	msg, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(w, `{"error": %q}`, err.Error())
		return
	}
	_, _ = w.Write(msg)
}

// The bulk of the logic for ServeHTTP, broken into its own pure function to
// make unit testing easy.
func (rs *ReadyServer) makeResponse() (int, time.Time) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if rs.ready {
		return http.StatusOK, rs.lastScan
	}
	return http.StatusServiceUnavailable, rs.lastScan
}
