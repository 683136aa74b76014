package auth_test

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockStatusUpdater implements auth.StatusUpdater
type MockStatusUpdater struct {
	mock.Mock
}

func (m *MockStatusUpdater) UpdateStatus(ctx context.Context, id uuid.UUID, status auth.UserStatus, opts ...auth.StatusUpdateOption) (*auth.User, error) {
	args := m.Called(ctx, id, status, opts)
	if user, ok := args.Get(0).(*auth.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStatusUpdater) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status auth.UserStatus, opts ...auth.StatusUpdateOption) (*auth.User, error) {
	args := m.Called(ctx, tx, id, status, opts)
	if user, ok := args.Get(0).(*auth.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSubjectResolver implements auth.SubjectResolver
type MockSubjectResolver struct {
	mock.Mock
}

func (m *MockSubjectResolver) FindBySubjectClaim(ctx context.Context, subject string) (auth.Principal, error) {
	args := m.Called(ctx, subject)
	if p, ok := args.Get(0).(auth.Principal); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockBearerDecoder implements auth.BearerDecoder
type MockBearerDecoder struct {
	mock.Mock
}

func (m *MockBearerDecoder) DecodeSubject(token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}

func (m *MockBearerDecoder) Validate(token string, p auth.Principal) bool {
	args := m.Called(token, p)
	return args.Bool(0)
}

// MockNotifier implements auth.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n auth.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// capturingSink records activity events
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *capturingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// capturingNotifier records notifications synchronously
type capturingNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (n *capturingNotifier) Notify(_ context.Context, notification auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *capturingNotifier) last() (auth.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return auth.Notification{}, false
	}
	return n.sent[len(n.sent)-1], true
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// MockLoginStore implements auth.LoginStore
type MockLoginStore struct {
	mock.Mock
}

func (m *MockLoginStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	if user, ok := args.Get(0).(*auth.User); ok {
		return user, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoginStore) TrackAttemptedLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockLoginStore) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
