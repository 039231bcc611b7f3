package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sean-rowe/farm-weather-gateway/internal/adapters/secondary/embrapa"
)

// climAPIStub serves /token and /climapi/v1/ncep-gfs/{variable}/... and logs
// every call as "token" or "data:{variable}:{bearer}".
type climAPIStub struct {
	server *httptest.Server

	mu    sync.Mutex
	calls []string

	// dataStatus is keyed by bearer token; unknown tokens answer 401
	dataStatus  map[string]int
	tokenStatus int

	tokenCalls atomic.Int64
	dataCalls  atomic.Int64
	tokenSeq   atomic.Int64
}

func newClimAPIStub() *climAPIStub {
	s := &climAPIStub{
		dataStatus:  map[string]int{},
		tokenStatus: http.StatusOK,
	}

	s.server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

func (s *climAPIStub) tokenURL() string {
	return s.server.URL + "/token"
}

func (s *climAPIStub) apiURL() string {
	return s.server.URL + "/climapi/v1"
}

func (s *climAPIStub) close() {
	s.server.Close()
}

func (s *climAPIStub) setDataStatus(token string, status int) {
	s.mu.Lock()
	s.dataStatus[token] = status
	s.mu.Unlock()
}

// callsFor returns the data calls for one variable, in arrival order.
func (s *climAPIStub) callsFor(variable string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string

	for _, c := range s.calls {
		if strings.HasPrefix(c, "data:"+variable+":") {
			out = append(out, c)
		}
	}

	return out
}

func (s *climAPIStub) record(entry string) {
	s.mu.Lock()
	s.calls = append(s.calls, entry)
	s.mu.Unlock()
}

func (s *climAPIStub) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		s.tokenCalls.Add(1)
		s.record("token")

		s.mu.Lock()
		status := s.tokenStatus
		s.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("oauth-%d", s.tokenSeq.Add(1)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

		return
	}

	s.dataCalls.Add(1)

	// /climapi/v1/ncep-gfs/{variable}/{date}/{lon}/{lat}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/climapi/v1/"), "/")
	if len(parts) != 5 || parts[0] != embrapa.ModelGFS {
		http.NotFound(w, r)
		return
	}

	variable := parts[1]
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.record("data:" + variable + ":" + token)

	s.mu.Lock()
	status, ok := s.dataStatus[token]
	s.mu.Unlock()

	if !ok {
		status = http.StatusUnauthorized
	}

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch variable {
	case embrapa.VariableTemperature:
		_, _ = w.Write([]byte(`[{"valor": 25.3}]`))
	case embrapa.VariableHumidity:
		_, _ = w.Write([]byte(`[{"valor": 61}]`))
	default:
		_, _ = w.Write([]byte(`[]`))
	}
}
