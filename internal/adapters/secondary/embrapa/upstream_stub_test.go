package embrapa

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stubUpstream imitates the ClimAPI token and data endpoints and keeps an
// ordered log of every call.
type stubUpstream struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []string

	tokenCalls atomic.Int64
	dataCalls  atomic.Int64

	// token endpoint behavior
	tokenStatus    int
	tokenExpiresIn int64
	omitExpiresIn  bool
	tokenDelay     time.Duration
	tokenSeq       atomic.Int64

	// data endpoint behavior, keyed by bearer token; missing keys answer 401
	dataStatus map[string]int
	dataBody   string
}

func newStubUpstream() *stubUpstream {
	s := &stubUpstream{
		tokenStatus:    http.StatusOK,
		tokenExpiresIn: 3600,
		dataStatus:     map[string]int{},
		dataBody:       `[{"valor": 25.3, "horas": 0}]`,
	}

	s.server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

func (s *stubUpstream) tokenURL() string {
	return s.server.URL + "/token"
}

func (s *stubUpstream) dataURL() string {
	return s.server.URL + "/data"
}

func (s *stubUpstream) close() {
	s.server.Close()
}

func (s *stubUpstream) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.calls...)
}

// configure mutates the stub's behavior while requests may be in flight.
func (s *stubUpstream) configure(fn func(s *stubUpstream)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *stubUpstream) record(entry string) {
	s.mu.Lock()
	s.calls = append(s.calls, entry)
	s.mu.Unlock()
}

func (s *stubUpstream) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		s.tokenCalls.Add(1)
		s.record("token")

		s.mu.Lock()
		status, delay, expiresIn, omit := s.tokenStatus, s.tokenDelay, s.tokenExpiresIn, s.omitExpiresIn
		s.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))

			return
		}

		payload := map[string]interface{}{
			"access_token": fmt.Sprintf("oauth-%d", s.tokenSeq.Add(1)),
			"token_type":   "Bearer",
		}

		if !omit {
			payload["expires_in"] = expiresIn
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)

		return
	}

	s.dataCalls.Add(1)

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.record("data:" + token)

	s.mu.Lock()
	status, ok := s.dataStatus[token]
	body := s.dataBody
	s.mu.Unlock()

	if !ok {
		status = http.StatusUnauthorized
	}

	w.WriteHeader(status)

	if status == http.StatusOK {
		_, _ = w.Write([]byte(body))
	}
}

// fakeClock is a settable time source safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
