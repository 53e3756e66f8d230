// Package fakeserver is an in-memory File Browser API for tests. It serves
// login, listing, checksum and raw endpoints and can inject failures.
package fakeserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/cbout22/fbsync/internal/digest"
	"github.com/cbout22/fbsync/internal/remotepath"
)

// Op identifies an endpoint for fault injection and hit counting.
type Op string

const (
	OpLogin    Op = "login"
	OpList     Op = "list"
	OpChecksum Op = "checksum"
	OpRaw      Op = "raw"
)

// Drop makes an injected failure close the connection instead of answering.
const Drop = -1

type key struct {
	op   Op
	path remotepath.Path
}

type failure struct {
	remaining int
	status    int
}

// Server is a fake File Browser instance.
type Server struct {
	*httptest.Server

	Username string
	Password string

	mu        sync.Mutex
	token     string
	files     map[remotepath.Path][]byte
	children  map[remotepath.Path][]string
	isDir     map[remotepath.Path]bool
	failures  map[key]*failure
	corrupt   map[remotepath.Path]bool
	malformed map[remotepath.Path]bool
	badSums   map[remotepath.Path]string
	hits      map[key]int
	encoding  string
}

// New starts a server with credentials admin/admin.
func New() *Server {
	s := &Server{
		Username:  "admin",
		Password:  "admin",
		token:     "fake-token-1",
		files:     map[remotepath.Path][]byte{},
		children:  map[remotepath.Path][]string{},
		isDir:     map[remotepath.Path]bool{remotepath.Root: true},
		failures:  map[key]*failure{},
		corrupt:   map[remotepath.Path]bool{},
		malformed: map[remotepath.Path]bool{},
		badSums:   map[remotepath.Path]string{},
		hits:      map[key]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Token returns the token the server currently accepts.
func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// RotateToken invalidates every token handed out so far.
func (s *Server) RotateToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token += "x"
}

// AddDir creates a directory and its parents.
func (s *Server) AddDir(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(remotepath.Normalize(path))
}

func (s *Server) addDirLocked(p remotepath.Path) {
	if s.isDir[p] {
		return
	}
	s.addDirLocked(p.Parent())
	s.isDir[p] = true
	s.children[p.Parent()] = append(s.children[p.Parent()], p.Base())
}

// AddFile creates or replaces a file, creating parent directories.
func (s *Server) AddFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := remotepath.Normalize(path)
	s.addDirLocked(p.Parent())
	if _, ok := s.files[p]; !ok {
		s.children[p.Parent()] = append(s.children[p.Parent()], p.Base())
	}
	s.files[p] = append([]byte(nil), content...)
}

// AddRawEntry appends a listing entry with no backing node, for testing
// odd listings such as items without names.
func (s *Server) AddRawEntry(dir, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := remotepath.Normalize(dir)
	s.children[d] = append(s.children[d], name)
}

// FailNext makes the next n calls of op on path answer with status, or drop
// the connection when status is Drop.
func (s *Server) FailNext(op Op, path string, n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key{op, remotepath.Normalize(path)}] = &failure{remaining: n, status: status}
}

// Corrupt makes raw downloads of path return bytes that differ from the
// advertised checksum.
func (s *Server) Corrupt(path string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[remotepath.Normalize(path)] = on
}

// MalformedListing makes listings of dir return an object without items.
func (s *Server) MalformedListing(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malformed[remotepath.Normalize(dir)] = true
}

// OverrideChecksum makes the checksum endpoint report sum for path.
func (s *Server) OverrideChecksum(path, sum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badSums[remotepath.Normalize(path)] = sum
}

// SetEncoding compresses raw and JSON responses with "zstd" or "gzip" when
// the client accepts it. "" disables compression.
func (s *Server) SetEncoding(enc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding = enc
}

// Hits returns how many times op was called for path.
func (s *Server) Hits(op Op, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key{op, remotepath.Normalize(path)}]
}

// TotalHits returns how many times op was called for any path.
func (s *Server) TotalHits(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for k, n := range s.hits {
		if k.op == op {
			total += n
		}
	}
	return total
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/login" && r.Method == http.MethodPost:
		s.serveLogin(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/resources"):
		p := remotepath.Normalize(strings.TrimPrefix(r.URL.Path, "/api/resources"))
		if r.URL.Query().Get("checksum") != "" {
			s.serveChecksum(w, r, p)
			return
		}
		s.serveList(w, r, p)
	case strings.HasPrefix(r.URL.Path, "/api/raw"):
		s.serveRaw(w, r, remotepath.Normalize(strings.TrimPrefix(r.URL.Path, "/api/raw")))
	default:
		http.NotFound(w, r)
	}
}

// begin counts the hit and applies injected failures and auth. It reports
// whether the handler should continue.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, op Op, p remotepath.Path) bool {
	s.mu.Lock()
	k := key{op, p}
	s.hits[k]++
	f := s.failures[k]
	var status int
	if f != nil && f.remaining > 0 {
		f.remaining--
		status = f.status
	}
	token := s.token
	s.mu.Unlock()

	switch {
	case status == Drop:
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return false
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return false
	case status != 0:
		http.Error(w, http.StatusText(status), status)
		return false
	}

	if op != OpLogin && r.Header.Get("X-Auth") != token {
		http.Error(w, "401 Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) serveLogin(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, OpLogin, remotepath.Root) {
		return
	}
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Username != s.Username || creds.Password != s.Password {
		http.Error(w, "403 Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(`"` + s.Token() + `"`))
}

type item struct {
	Name  string `json:"name,omitempty"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

func (s *Server) serveList(w http.ResponseWriter, r *http.Request, p remotepath.Path) {
	if !s.begin(w, r, OpList, p) {
		return
	}
	s.mu.Lock()
	if !s.isDir[p] {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	if s.malformed[p] {
		s.mu.Unlock()
		s.writeJSON(w, r, map[string]interface{}{"name": p.Base(), "isDir": true})
		return
	}
	items := make([]item, 0, len(s.children[p]))
	for _, name := range s.children[p] {
		child := remotepath.Join(p, name)
		items = append(items, item{
			Name:  name,
			Path:  child.String(),
			IsDir: s.isDir[child],
			Size:  int64(len(s.files[child])),
		})
	}
	s.mu.Unlock()
	s.writeJSON(w, r, map[string]interface{}{"name": p.Base(), "isDir": true, "items": items})
}

func (s *Server) serveChecksum(w http.ResponseWriter, r *http.Request, p remotepath.Path) {
	if !s.begin(w, r, OpChecksum, p) {
		return
	}
	s.mu.Lock()
	content, ok := s.files[p]
	override, overridden := s.badSums[p]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	sum := digest.Bytes(content).Hex
	if overridden {
		sum = override
	}
	s.writeJSON(w, r, map[string]interface{}{
		"name":      p.Base(),
		"checksums": map[string]string{"sha256": sum},
	})
}

func (s *Server) serveRaw(w http.ResponseWriter, r *http.Request, p remotepath.Path) {
	if !s.begin(w, r, OpRaw, p) {
		return
	}
	s.mu.Lock()
	content, ok := s.files[p]
	if s.corrupt[p] {
		content = append(append([]byte(nil), content...), "corrupted"...)
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.write(w, r, "application/octet-stream", content)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.write(w, r, "application/json", data)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	s.mu.Lock()
	enc := s.encoding
	s.mu.Unlock()

	w.Header().Set("Content-Type", contentType)
	if enc == "" || !strings.Contains(r.Header.Get("Accept-Encoding"), enc) {
		w.Write(data)
		return
	}

	var buf bytes.Buffer
	switch enc {
	case "zstd":
		zw, _ := zstd.NewWriter(&buf)
		zw.Write(data)
		zw.Close()
	case "gzip":
		gw := gzip.NewWriter(&buf)
		gw.Write(data)
		gw.Close()
	}
	w.Header().Set("Content-Encoding", enc)
	w.Write(buf.Bytes())
}
