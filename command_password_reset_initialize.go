package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// InitializePasswordResetHandler sends a PASSWORD_RESET token to an existing
// account. Unknown emails succeed without doing anything.
type InitializePasswordResetHandler struct {
	flowDeps
}

func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().FindByEmail(ctx, event.Email)
	if err != nil {
		if HasTextCode(err, TextCodeIdentityNotFound) || goerrors.IsNotFound(err) {
			h.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	user.EnsureStatus()
	if user.Status == UserStatusInactive {
		return nil
	}

	if err := h.issueAndNotify(ctx, user, PurposePasswordReset); err != nil {
		return err
	}

	h.emit(ctx, ActivityEventPasswordResetRequest, userActor(user), user.ID.String(), nil)
	return nil
}
