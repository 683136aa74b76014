package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Notification is a token delivery request for one user
type Notification struct {
	User      *User
	Purpose   TokenPurpose
	Token     string
	Link      string
	ExpiresAt time.Time
}

// Notifier delivers tokens to their owner, usually by email
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

// LogNotifier writes the link to the logger instead of sending it.
// Meant for local development.
func LogNotifier(logger Logger) Notifier {
	if logger == nil {
		logger = defLogger{}
	}
	return NotifierFunc(func(_ context.Context, n Notification) error {
		email := ""
		if n.User != nil {
			email = n.User.Email
		}
		logger.Info("notification %s to=%s link=%s", n.Purpose, email, n.Link)
		return nil
	})
}

// TokenLink builds the frontend link carrying token for purpose
func TokenLink(frontendURL string, purpose TokenPurpose, token string) string {
	path := "/verify-email"
	if purpose == PurposePasswordReset {
		path = "/reset-password"
	}
	return strings.TrimRight(frontendURL, "/") + path + "?token=" + url.QueryEscape(token)
}

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher sends notifications in the background. Delivery is detached
// from the request context and failures are only logged, so token state
// is never affected by delivery.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   Logger
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// ErrDispatcherClosed is returned by Notify once Wait has been called
var ErrDispatcherClosed = goerrors.New("notification dispatcher is closed", goerrors.CategoryOperation).
	WithTextCode("DISPATCHER_CLOSED")

type DispatcherOption func(*Dispatcher)

func WithDispatchTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  defaultDispatchTimeout,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Notify queues n and returns immediately
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	if d == nil || d.notifier == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(sendCtx, n); err != nil {
			d.logger.Error("failed to deliver %s notification: %v", n.Purpose, err)
		}
	}()
	return nil
}

// Wait stops accepting notifications and blocks until in-flight
// deliveries finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
