package testsupport

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"trackrelay/internal/wrapper"
)

// FakeDecrypt is the transform applied by the fake wrapper backend.
func FakeDecrypt(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ 0x5A
	}
	return out
}

// WrapperServer is an in-process backend speaking the wrapper wire contract.
type WrapperServer struct {
	server *httptest.Server

	mu            sync.Mutex
	ready         bool
	regions       []string
	accounts      map[string]*wrapper.Account
	require2FA    bool
	playlistURL   string
	lyrics        string
	decryptCodes  []int32
	statusCode    int
	lastHeader    wrapper.DecryptHeader
	decryptBlock  chan struct{}
	StatusCalls   atomic.Int64
	M3U8Calls     atomic.Int64
	LyricsCalls   atomic.Int64
	DecryptCalls  atomic.Int64
	DecryptFrames atomic.Int64
}

// WrapperOption customizes a WrapperServer.
type WrapperOption func(*WrapperServer)

// WithWrapperNotReady makes status report ready=false.
func WithWrapperNotReady() WrapperOption {
	return func(s *WrapperServer) { s.ready = false }
}

// WithWrapperAccount seeds an authenticated account.
func WithWrapperAccount(name string) WrapperOption {
	return func(s *WrapperServer) {
		s.accounts[name] = &wrapper.Account{Account: name, Authenticated: true}
	}
}

// WithWrapper2FA makes logins without a code answer LoginNeed2FA.
func WithWrapper2FA() WrapperOption {
	return func(s *WrapperServer) { s.require2FA = true }
}

// NewWrapperServer starts a fake backend on a loopback TCP listener.
func NewWrapperServer(t testing.TB, opts ...WrapperOption) *WrapperServer {
	t.Helper()
	s := newWrapperServer(opts...)
	s.server = httptest.NewServer(s.handler())
	t.Cleanup(s.server.Close)
	return s
}

// NewUnixWrapperServer starts a fake backend listening on socketPath.
func NewUnixWrapperServer(t testing.TB, socketPath string, opts ...WrapperOption) *WrapperServer {
	t.Helper()
	s := newWrapperServer(opts...)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen unix %s: %v", socketPath, err)
	}
	s.server = httptest.NewUnstartedServer(s.handler())
	s.server.Listener = ln
	s.server.Start()
	t.Cleanup(s.server.Close)
	return s
}

func newWrapperServer(opts ...WrapperOption) *WrapperServer {
	s := &WrapperServer{
		ready:    true,
		regions:  []string{"us"},
		accounts: make(map[string]*wrapper.Account),
		lyrics:   `<tt><body><div><p begin="0.0">la</p></div></body></tt>`,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the host:port of a TCP server.
func (s *WrapperServer) Address() string {
	return s.server.Listener.Addr().String()
}

// Close stops the server, making subsequent calls fail to connect.
func (s *WrapperServer) Close() { s.server.Close() }

// SetReady toggles the readiness reported by status.
func (s *WrapperServer) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// SetStatusCode makes status answer with code instead of a report. Zero
// restores normal behavior.
func (s *WrapperServer) SetStatusCode(code int) {
	s.mu.Lock()
	s.statusCode = code
	s.mu.Unlock()
}

// SetPlaylistURL sets the master playlist URL returned by m3u8.
func (s *WrapperServer) SetPlaylistURL(url string) {
	s.mu.Lock()
	s.playlistURL = url
	s.mu.Unlock()
}

// SetLyrics sets the lyrics document. Empty makes lyrics return 404.
func (s *WrapperServer) SetLyrics(lyrics string) {
	s.mu.Lock()
	s.lyrics = lyrics
	s.mu.Unlock()
}

// QueueDecryptErrors makes the next decrypt calls fail with the given codes,
// one per call, before decrypt succeeds again.
func (s *WrapperServer) QueueDecryptErrors(codes ...int32) {
	s.mu.Lock()
	s.decryptCodes = append(s.decryptCodes, codes...)
	s.mu.Unlock()
}

// BlockDecrypt makes decrypt calls wait until the returned release func runs
// or the request context ends.
func (s *WrapperServer) BlockDecrypt() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.decryptBlock = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			s.mu.Lock()
			s.decryptBlock = nil
			s.mu.Unlock()
		})
	}
}

// LastDecryptHeader returns the header of the most recent decrypt call.
func (s *WrapperServer) LastDecryptHeader() wrapper.DecryptHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeader
}

func (s *WrapperServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /m3u8", s.handleM3U8)
	mux.HandleFunc("GET /lyrics", s.handleLyrics)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /decrypt", s.handleDecrypt)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *WrapperServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.StatusCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusCode != 0 {
		w.WriteHeader(s.statusCode)
		return
	}
	status := wrapper.Status{Ready: s.ready, Regions: s.regions, ClientCount: 1}
	for _, acct := range s.accounts {
		status.Accounts = append(status.Accounts, *acct)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *WrapperServer) handleM3U8(w http.ResponseWriter, r *http.Request) {
	s.M3U8Calls.Add(1)
	s.mu.Lock()
	url := s.playlistURL
	s.mu.Unlock()
	if url == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": wrapper.CodeUnsupportedFormat, "message": "no playlist"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *WrapperServer) handleLyrics(w http.ResponseWriter, r *http.Request) {
	s.LyricsCalls.Add(1)
	s.mu.Lock()
	lyrics := s.lyrics
	s.mu.Unlock()
	if lyrics == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 99, "message": "no lyrics"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lyrics": lyrics})
}

func (s *WrapperServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account  string `json:"account"`
		Password string `json:"password"`
		Code     string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		writeJSON(w, http.StatusOK, wrapper.LoginResult{Code: wrapper.LoginFailed, Message: "bad request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[req.Account]
	if !ok {
		acct = &wrapper.Account{Account: req.Account}
		s.accounts[req.Account] = acct
	}
	if req.Password == "wrong" {
		writeJSON(w, http.StatusOK, wrapper.LoginResult{Code: wrapper.LoginFailed, Message: "invalid credentials"})
		return
	}
	if s.require2FA && req.Code == "" {
		acct.Pending2FA = true
		writeJSON(w, http.StatusOK, wrapper.LoginResult{Code: wrapper.LoginNeed2FA, Message: "enter verification code"})
		return
	}
	acct.Pending2FA = false
	acct.Authenticated = true
	writeJSON(w, http.StatusOK, wrapper.LoginResult{Code: wrapper.LoginOK})
}

func (s *WrapperServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[req.Account]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 99, "message": "unknown account"})
		return
	}
	delete(s.accounts, req.Account)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *WrapperServer) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	s.DecryptCalls.Add(1)
	_ = http.NewResponseController(w).EnableFullDuplex()

	reader := bufio.NewReader(r.Body)
	header, err := wrapper.ReadHeader(reader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.lastHeader = header
	var failCode int32
	if len(s.decryptCodes) > 0 {
		failCode = s.decryptCodes[0]
		s.decryptCodes = s.decryptCodes[1:]
	}
	block := s.decryptBlock
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for {
		index, payload, err := wrapper.ReadRequestFrame(reader)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if failCode != 0 {
			_ = wrapper.WriteResponseFrame(w, index, failCode, []byte("injected failure"))
			return
		}
		s.DecryptFrames.Add(1)
		if err := wrapper.WriteResponseFrame(w, index, 0, FakeDecrypt(payload)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
