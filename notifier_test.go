package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ovigia/authd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTokenLink(t *testing.T) {
	assert.Equal(t,
		"https://app.example.com/verify-email?token=abc",
		auth.TokenLink("https://app.example.com/", auth.PurposeEmailVerify, "abc"),
	)
	assert.Equal(t,
		"http://localhost:3000/reset-password?token=a%2Bb",
		auth.TokenLink("http://localhost:3000", auth.PurposePasswordReset, "a+b"),
	)
}

func TestDispatcherDeliversDetachedFromRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := &MockNotifier{}
	n.On("Notify", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			assert.NoError(t, ctx.Err())
		}).
		Return(nil).Once()

	d := auth.NewDispatcher(n, auth.WithDispatcherLogger(auth.NopLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, d.Notify(ctx, auth.Notification{Purpose: auth.PurposeEmailVerify, Token: "t"}))

	waitCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, d.Wait(waitCtx))
	n.AssertExpectations(t)
}

func TestDispatcherSwallowsDeliveryErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := &MockNotifier{}
	n.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()

	d := auth.NewDispatcher(n, auth.WithDispatcherLogger(auth.NopLogger()))
	assert.NoError(t, d.Notify(context.Background(), auth.Notification{Purpose: auth.PurposePasswordReset}))
	require.NoError(t, d.Wait(context.Background()))
	n.AssertExpectations(t)
}

type countingNotifier struct {
	delivered atomic.Int64
}

func (n *countingNotifier) Notify(context.Context, auth.Notification) error {
	n.delivered.Add(1)
	return nil
}

func TestDispatcherRejectsNotifyAfterWait(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	n := &countingNotifier{}
	d := auth.NewDispatcher(n, auth.WithDispatcherLogger(auth.NopLogger()))

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Notify(context.Background(), auth.Notification{Purpose: auth.PurposeEmailVerify})
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.ErrorIs(t, err, auth.ErrDispatcherClosed)
		}()
	}

	require.NoError(t, d.Wait(context.Background()))
	wg.Wait()

	err := d.Notify(context.Background(), auth.Notification{Purpose: auth.PurposePasswordReset})
	assert.ErrorIs(t, err, auth.ErrDispatcherClosed)
	assert.Equal(t, accepted.Load(), n.delivered.Load(), "every accepted notification is delivered before Wait returns")
}
