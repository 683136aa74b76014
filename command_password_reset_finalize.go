package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token    string `json:"token" doc:"Password reset token"`
	Password string `json:"newPassword" example:"some_secret_word" doc:"New password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// FinalizePasswordResetHandler redeems a PASSWORD_RESET token and stores
// the new password hash. Token failures all surface as ErrInvalidToken.
type FinalizePasswordResetHandler struct {
	flowDeps
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	// hash first so a rejected password does not burn the token
	passwordHash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	var tok *EphemeralToken
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		consumed, err := h.consumeTx(ctx, tx, event.Token, PurposePasswordReset)
		if err != nil {
			return err
		}
		tok = consumed

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, tok.OwnerID, passwordHash); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrInvalidToken
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.emit(ctx, ActivityEventPasswordResetSuccess,
		ActorRef{ID: tok.OwnerID.String(), Type: "user"},
		tok.OwnerID.String(),
		map[string]any{"token_id": tok.ID.String()},
	)

	return nil
}
