// Package store owns the session records: creation, lookup, metadata
// updates, paging and expiry. Document content is never touched here
// beyond seeding at creation.
package store

import (
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/andrei-shtanakov/collab-editor/internal/crdt"
	"github.com/andrei-shtanakov/collab-editor/internal/models"
)

var ErrNotFound = errors.New("session not found")

const (
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	idLength   = 10

	DefaultInitialCode = "# Write your code here\n"

	// seedSite is the site id used when seeding a document with the
	// session's initial code.
	seedSite = "origin"
)

// Session is one collaboration session record. Doc is owned by the
// record and mutated only by the session's hub; it is dropped when the
// session goes idle.
type Session struct {
	ID           string
	Language     models.Language
	Title        string
	InitialCode  string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       models.SessionStatus
	Doc          *crdt.Doc
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func New() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func newID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

func (s *Store) Create(req models.CreateSessionRequest) Session {
	lang := req.Language
	if lang == "" {
		lang = models.LangPython
	}
	doc := crdt.New()
	if req.InitialCode != "" {
		// Seeding happens before any hub exists, so the record is the
		// only writer at this point.
		_, _ = doc.InsertAt(seedSite, 0, req.InitialCode)
	}
	now := time.Now().UTC()
	sess := &Session{
		Language:     lang,
		Title:        req.Title,
		InitialCode:  req.InitialCode,
		CreatedAt:    now,
		LastActivity: now,
		Status:       models.StatusActive,
		Doc:          doc,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := newID()
	for {
		if _, taken := s.sessions[id]; !taken {
			break
		}
		id = newID()
	}
	sess.ID = id
	s.sessions[id] = sess
	return *sess
}

func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

// Update changes descriptive metadata only.
func (s *Store) Update(id string, req models.UpdateSessionRequest) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if req.Language != nil {
		sess.Language = *req.Language
	}
	if req.Title != nil {
		sess.Title = *req.Title
	}
	sess.LastActivity = time.Now().UTC()
	return *sess, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Status = models.StatusClosed
	sess.Doc = nil
	delete(s.sessions, id)
	return nil
}

// List returns a page of sessions, newest first, and the total count.
func (s *Store) List(limit, offset int) ([]Session, int) {
	s.mu.RLock()
	all := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return []Session{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == models.StatusActive {
			n++
		}
	}
	return n
}

// Touch refreshes the activity timestamp, typically on connect.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = time.Now().UTC()
	}
}

// MarkIdle is called when a session's hub is disposed after its grace
// period: the document handle goes with the hub, only metadata remains.
func (s *Store) MarkIdle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.Status = models.StatusIdle
		sess.Doc = nil
		sess.LastActivity = time.Now().UTC()
	}
}

// StaleIDs lists sessions whose last activity is older than ttl.
func (s *Store) StaleIDs(ttl time.Duration) []string {
	cutoff := time.Now().UTC().Add(-ttl)
	s.mu.RLock()
	defer s.mu.RUnlock()
	stale := make([]string, 0)
	for id, sess := range s.sessions {
		if !sess.LastActivity.After(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// DeleteStale removes a session only if its last activity is still
// older than ttl, reporting whether it was removed. The registry
// serializes this against hub creation so a session with live
// connections is never deleted from under them.
func (s *Store) DeleteStale(id string, ttl time.Duration) bool {
	cutoff := time.Now().UTC().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.LastActivity.After(cutoff) {
		return false
	}
	sess.Status = models.StatusClosed
	sess.Doc = nil
	delete(s.sessions, id)
	return true
}
