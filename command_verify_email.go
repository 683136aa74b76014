package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(user *User)
}

func (e VerifyEmailMessage) Type() string { return "user.verify_email" }

// VerifyEmailHandler redeems an EMAIL_VERIFY token and activates its owner
type VerifyEmailHandler struct {
	flowDeps
}

func NewVerifyEmailHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *VerifyEmailHandler {
	return &VerifyEmailHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var user *User
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tok, err := h.consumeTx(ctx, tx, event.Token, PurposeEmailVerify)
		if err != nil {
			return err
		}

		user, err = h.repo.Users().GetByIdentifierTx(ctx, tx, tok.OwnerID.String())
		if err != nil {
			if goerrors.IsNotFound(err) || HasTextCode(err, TextCodeIdentityNotFound) {
				return ErrInvalidToken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load token owner")
		}

		user.EnsureStatus()
		switch {
		case user.Status == UserStatusPending:
			user, err = h.states.Transition(ctx, userActor(user), user, UserStatusActive,
				WithTransitionReason("email verified"), WithTransitionTx(tx))
			if err != nil {
				return asRichError(err, "failed to activate user")
			}
		case !user.EmailVerified:
			updated, err := h.repo.Users().UpdateStatusTx(ctx, tx, user.ID, user.Status, WithEmailVerified(true))
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
			}
			user = updated
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.emit(ctx, ActivityEventEmailVerified, userActor(user), user.ID.String(), nil)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}
	return nil
}
