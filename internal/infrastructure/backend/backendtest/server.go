// Package backendtest runs an in-process pegasus backend for tests. It keeps
// the behaviours clients depend on: string-compared modification times,
// single-use CSRF tokens, "Nothing new." for empty deltas, the "None" error
// sentinel and tombstoned rows that stay in the delta.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"

	"github.com/mariamrf/pegasus/pkg/api"
)

// TimeLayout is how the backend writes timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Row is one stored component.
type Row struct {
	ID             int
	Content        string
	UserID         string
	UserEmail      string
	CreatedAt      string
	LastModifiedAt string
	LastModifiedBy string
	Type           string
	Position       string
	Deleted        bool
}

func (r Row) component() api.Component {
	var pos api.WirePosition
	_ = json.Unmarshal([]byte(strconv.Quote(r.Position)), &pos)
	deleted := api.FlexBool(r.Deleted)
	return api.Component{
		ID:             api.FlexString(strconv.Itoa(r.ID)),
		Content:        r.Content,
		UserID:         api.FlexString(r.UserID),
		UserEmail:      r.UserEmail,
		CreatedAt:      r.CreatedAt,
		LastModifiedAt: r.LastModifiedAt,
		LastModifiedBy: api.FlexString(r.LastModifiedBy),
		Type:           r.Type,
		Position:       pos,
		Deleted:        deleted,
	}
}

// Request is a recorded call.
type Request struct {
	Method string
	Path   string
	Form   map[string]string
}

// Server is a fake backend for one board.
type Server struct {
	t       testing.TB
	srv     *httptest.Server
	BoardID string

	mu       sync.Mutex
	rows     map[int]*Row
	nextID   int
	clock    time.Time
	token    int
	locked   bool
	lockedBy string
	finished bool
	users    map[string]api.UserResponse
	reject   map[string]string
	status   map[string]int
	omitID   bool
	requests []Request

	// Author is the user id stamped on rows created through the API.
	Author string
}

// New starts a server; it is closed when the test ends.
func New(t testing.TB, boardID string) *Server {
	s := &Server{
		t:       t,
		BoardID: boardID,
		rows:    make(map[int]*Row),
		nextID:  1,
		clock:   time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC),
		users:   make(map[string]api.UserResponse),
		reject:  make(map[string]string),
		status:  make(map[string]int),
		Author:  "1",
	}

	r := chi.NewRouter()
	r.Get("/board/{board}", s.page)
	r.Get("/api/board/{board}/components/get", s.poll)
	r.Post("/api/board/{board}/components/post", s.create)
	r.Post("/api/edit/board/{board}/component/{component}", s.edit)
	r.Post("/api/delete/board/{board}/component/{component}", s.delete)
	r.Get("/api/user/{user}", s.user)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the backend base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Token is the token the next POST must carry.
func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentToken()
}

func (s *Server) currentToken() string {
	return "tok-" + strconv.Itoa(s.token)
}

// tick advances the fake clock one second and returns its text.
func (s *Server) tick() string {
	s.clock = s.clock.Add(time.Second)
	return s.clock.Format(TimeLayout)
}

// Insert stores a row as if another client had written it. Zero ID and
// timestamps are filled in.
func (s *Server) Insert(row Row) Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.ID == 0 {
		row.ID = s.nextID
	}
	if row.ID >= s.nextID {
		s.nextID = row.ID + 1
	}
	now := s.tick()
	if row.CreatedAt == "" {
		row.CreatedAt = now
	}
	if row.LastModifiedAt == "" {
		row.LastModifiedAt = now
	}
	if row.Position == "" {
		row.Position = api.NoneSentinel
	}
	stored := row
	s.rows[row.ID] = &stored
	return stored
}

// Update changes a row as another client would, bumping its timestamp.
func (s *Server) Update(id int, fn func(*Row)) Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		s.t.Fatalf("backendtest: no row %d", id)
	}
	fn(row)
	row.LastModifiedAt = s.tick()
	return *row
}

// Row returns a copy of a stored row.
func (s *Server) Row(id int) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return Row{}, false
	}
	return *row, true
}

// SetLock sets the lock the next polls report.
func (s *Server) SetLock(locked bool, by string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked, s.lockedBy = locked, by
}

// SetFinished marks the board expired; writes are refused.
func (s *Server) SetFinished(finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = finished
}

// SetUser registers a user for /api/user lookups.
func (s *Server) SetUser(id, username, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = api.UserResponse{Error: api.NoneSentinel, Username: username, Name: name}
}

// RejectNext makes the next call to endpoint ("create", "edit", "delete",
// "poll") report msg in its error field.
func (s *Server) RejectNext(endpoint, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[endpoint] = msg
}

// FailNext makes the next call to endpoint abort with an HTTP status.
func (s *Server) FailNext(endpoint string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[endpoint] = status
}

// OmitComponentID mimics invite-only writes, which report no id.
func (s *Server) OmitComponentID(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitID = omit
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsTo returns the calls whose endpoint matches.
func (s *Server) RequestsTo(endpoint string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if endpointOf(r.Path, r.Method) == endpoint {
			out = append(out, r)
		}
	}
	return out
}

func endpointOf(path, method string) string {
	switch {
	case method == http.MethodGet && len(path) > 9 && path[:10] == "/api/user/":
		return "user"
	case method == http.MethodGet && len(path) > 6 && path[:7] == "/board/":
		return "page"
	case method == http.MethodGet:
		return "poll"
	case len(path) > 9 && path[:10] == "/api/edit/":
		return "edit"
	case len(path) > 11 && path[:12] == "/api/delete/":
		return "delete"
	default:
		return "create"
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) record(r *http.Request) {
	_ = r.ParseForm()
	form := make(map[string]string)
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Form: form})
}

// abort consumes a queued HTTP failure for endpoint.
func (s *Server) abort(w http.ResponseWriter, endpoint string) bool {
	if status, ok := s.status[endpoint]; ok {
		delete(s.status, endpoint)
		http.Error(w, http.StatusText(status), status)
		return true
	}
	return false
}

func (s *Server) rejection(endpoint string) string {
	if msg, ok := s.reject[endpoint]; ok {
		delete(s.reject, endpoint)
		return msg
	}
	return ""
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "page") {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html><html><body>
<form id="chat"><input type="text" name="message"><input type="hidden" name="_csrf_token" value="%s"></form>
</body></html>`, html.EscapeString(s.currentToken()))
}

func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "poll") {
		return
	}

	resp := api.PollResponse{
		Locked:   api.FlexBool(s.locked),
		LockedBy: api.FlexString(s.lockedBy),
		Finished: api.FlexBool(s.finished),
	}
	if msg := s.rejection("poll"); msg != "" {
		resp.Error = msg
		writeJSON(w, resp)
		return
	}

	since := r.URL.Query().Get("lastModified")
	var rows []*Row
	for _, row := range s.rows {
		if row.LastModifiedAt > since {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt != rows[j].CreatedAt {
			return rows[i].CreatedAt < rows[j].CreatedAt
		}
		return rows[i].ID < rows[j].ID
	})

	if len(rows) == 0 {
		resp.Error = api.NothingNew
	}
	for _, row := range rows {
		resp.Messages = append(resp.Messages, row.component())
	}
	writeJSON(w, resp)
}

// consumeToken pops the session token like the backend's before_request hook.
func (s *Server) consumeToken(w http.ResponseWriter, r *http.Request) bool {
	if r.PostForm.Get(api.FieldCSRFToken) != s.currentToken() {
		s.token++
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	s.token++
	return true
}

func (s *Server) writeMutation(w http.ResponseWriter, errMsg string, componentID string) {
	if errMsg == "" {
		errMsg = api.NoneSentinel
	}
	writeJSON(w, api.MutationResponse{Error: errMsg, Token: s.currentToken(), ComponentID: api.FlexString(componentID)})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "create") || !s.consumeToken(w, r) {
		return
	}

	msg := r.PostForm.Get(api.FieldMessage)
	kind := r.PostForm.Get(api.FieldContentType)
	switch {
	case s.finished:
		s.writeMutation(w, "This board has expired. You cannot make any changes.", "")
		return
	case len(msg) < 1:
		s.writeMutation(w, "Content too short.", "")
		return
	}
	if rejected := s.rejection("create"); rejected != "" {
		s.writeMutation(w, rejected, "")
		return
	}

	now := s.tick()
	row := &Row{
		ID:             s.nextID,
		Content:        msg,
		UserID:         s.Author,
		CreatedAt:      now,
		LastModifiedAt: now,
		LastModifiedBy: s.Author,
		Type:           kind,
		Position:       r.PostForm.Get(api.FieldPosition),
	}
	s.nextID++
	s.rows[row.ID] = row

	id := strconv.Itoa(row.ID)
	if s.omitID {
		id = ""
	}
	s.writeMutation(w, "", id)
}

func (s *Server) edit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "edit") || !s.consumeToken(w, r) {
		return
	}
	if s.finished {
		s.writeMutation(w, "This board has expired. You cannot make any more changes.", "")
		return
	}
	if rejected := s.rejection("edit"); rejected != "" {
		s.writeMutation(w, rejected, "")
		return
	}

	id, _ := strconv.Atoi(chi.URLParam(r, "component"))
	row, ok := s.rows[id]
	// the backend's UPDATE silently matches nothing for a deleted row
	if !ok || row.Deleted || row.Type != r.PostForm.Get(api.FieldContentType) {
		s.writeMutation(w, "", "")
		return
	}

	if r.PostForm.Get(api.FieldHasMessages) == "true" {
		msg := r.PostForm.Get(api.FieldMessage)
		if len(msg) < 1 {
			s.writeMutation(w, "Content too short.", "")
			return
		}
		row.Content = msg
	} else {
		row.Position = r.PostForm.Get(api.FieldPosition)
	}
	row.LastModifiedAt = s.tick()
	row.LastModifiedBy = s.Author
	s.writeMutation(w, "", "")
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "delete") || !s.consumeToken(w, r) {
		return
	}
	if s.finished {
		s.writeMutation(w, "This board has expired. You cannot make any more changes.", "")
		return
	}
	if rejected := s.rejection("delete"); rejected != "" {
		s.writeMutation(w, rejected, "")
		return
	}

	id, _ := strconv.Atoi(chi.URLParam(r, "component"))
	if row, ok := s.rows[id]; ok && !row.Deleted {
		row.Deleted = true
		row.LastModifiedAt = s.tick()
		row.LastModifiedBy = s.Author
	}
	s.writeMutation(w, "", "")
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(r)
	if s.abort(w, "user") {
		return
	}

	if u, ok := s.users[chi.URLParam(r, "user")]; ok {
		writeJSON(w, u)
		return
	}
	writeJSON(w, api.UserResponse{Error: "User not found."})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
