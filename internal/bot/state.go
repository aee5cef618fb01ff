package bot

import (
	"strconv"
	"sync"

	"bontle/internal/dashboard"
)

type loginStep string

const (
	stepNone     loginStep = "none"
	stepEmail    loginStep = "email"
	stepPassword loginStep = "password"
)

// chatSession is the bot-side state of one chat. The controller has its own
// lock; mu covers the remaining fields.
type chatSession struct {
	chatID int64
	ctrl   *dashboard.Controller

	mu           sync.Mutex
	step         loginStep
	pendingEmail string
	page         int
	messageID    int    // dashboard message edited in place, 0 when none
	lastKey      string // text and keyboard last sent to messageID
	warnedExpiry bool

	// render serialises dashboard sends for this chat.
	render sync.Mutex
}

func (s *chatSession) setStep(step loginStep, email string) {
	s.mu.Lock()
	s.step = step
	s.pendingEmail = email
	s.mu.Unlock()
}

func (s *chatSession) loginState() (loginStep, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step, s.pendingEmail
}

func (s *chatSession) setPage(page int) {
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
}

// forgetMessage makes the next dashboard render a new message.
func (s *chatSession) forgetMessage() {
	s.mu.Lock()
	s.messageID = 0
	s.lastKey = ""
	s.mu.Unlock()
}

type sessionStore struct {
	mu      sync.Mutex
	m       map[int64]*chatSession
	newCtrl func(key string) *dashboard.Controller
}

func newSessionStore(newCtrl func(key string) *dashboard.Controller) *sessionStore {
	return &sessionStore{m: make(map[int64]*chatSession), newCtrl: newCtrl}
}

func sessionKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func (s *sessionStore) get(chatID int64) *chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.m[chatID]
	if st == nil {
		st = &chatSession{chatID: chatID, ctrl: s.newCtrl(sessionKey(chatID)), step: stepNone}
		s.m[chatID] = st
	}
	return st
}

// lookup returns the session for key without creating one.
func (s *sessionStore) lookup(key string) *chatSession {
	chatID, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[chatID]
}

func (s *sessionStore) all() []*chatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatSession, 0, len(s.m))
	for _, st := range s.m {
		out = append(out, st)
	}
	return out
}

// drop logs the chat out and forgets it. It reports whether a session existed.
func (s *sessionStore) drop(chatID int64) bool {
	s.mu.Lock()
	st := s.m[chatID]
	delete(s.m, chatID)
	s.mu.Unlock()
	if st == nil {
		return false
	}
	st.ctrl.Close()
	return true
}

// retain drops every session whose chat fails keep and returns how many went.
func (s *sessionStore) retain(keep func(chatID int64) bool) int {
	var gone []*chatSession
	s.mu.Lock()
	for id, st := range s.m {
		if !keep(id) {
			gone = append(gone, st)
			delete(s.m, id)
		}
	}
	s.mu.Unlock()
	for _, st := range gone {
		st.ctrl.Close()
	}
	return len(gone)
}

func (s *sessionStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// closeAll logs every chat out.
func (s *sessionStore) closeAll() {
	for _, st := range s.all() {
		st.ctrl.Close()
	}
}
