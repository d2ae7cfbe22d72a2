package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type memoryUsers struct {
	mu      sync.Mutex
	byEmail map[string]*User
	byID    map[string]*User
	nextID  int
	err     error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byEmail: map[string]*User{}, byID: map[string]*User{}}
}

func (m *memoryUsers) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	m.nextID++
	user := &User{
		ID:           fmt.Sprintf("user-%d", m.nextID),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.byEmail[email] = user
	m.byID[user.ID] = user
	clone := *user
	return &clone, nil
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

type sentPasscode struct {
	email string
	code  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentPasscode
	err  error
}

func (n *recordingNotifier) SendPasscode(ctx context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentPasscode{email: email, code: code})
	return nil
}

func (n *recordingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last() sentPasscode {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentPasscode{}
	}
	return n.sent[len(n.sent)-1]
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordAuth(flow, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[flow+"/"+outcome]++
}

func (r *countingRecorder) count(flow, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[flow+"/"+outcome]
}

// sequenceCodes yields the given codes in order.
func sequenceCodes(codes ...string) PasscodeGenerator {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return "", errors.New("no more codes")
		}
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}
}
