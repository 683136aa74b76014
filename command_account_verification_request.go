package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type ResendVerificationMessage struct {
	Email string `json:"email"`
}

func (e ResendVerificationMessage) Type() string { return "user.verification.resend" }

// ResendVerificationHandler issues a fresh verification token for a
// PENDING_VERIFICATION user. Unknown or already verified emails succeed
// silently so callers cannot probe for accounts.
type ResendVerificationHandler struct {
	flowDeps
}

func NewResendVerificationHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *ResendVerificationHandler {
	return &ResendVerificationHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during verification request")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().FindByEmail(ctx, event.Email)
	if err != nil {
		if HasTextCode(err, TextCodeIdentityNotFound) || goerrors.IsNotFound(err) {
			h.logger.Debug("verification requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification")
	}

	user.EnsureStatus()
	if user.Status != UserStatusPending {
		return nil
	}

	if err := h.issueAndNotify(ctx, user, PurposeEmailVerify); err != nil {
		return err
	}

	h.emit(ctx, ActivityEventVerificationRequested, userActor(user), user.ID.String(), nil)
	return nil
}
