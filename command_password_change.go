package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ErrCurrentPasswordMismatch the current password given for a change is wrong
var ErrCurrentPasswordMismatch = goerrors.New("current password is incorrect", goerrors.CategoryBadInput).
	WithTextCode("CURRENT_PASSWORD_MISMATCH").
	WithCode(goerrors.CodeBadRequest)

type ChangePasswordMessage struct {
	UserID          uuid.UUID `json:"-"`
	CurrentPassword string    `json:"currentPassword"`
	NewPassword     string    `json:"newPassword"`
}

func (e ChangePasswordMessage) Type() string { return "user.password.change" }

// ChangePasswordHandler replaces the password of an authenticated user
type ChangePasswordHandler struct {
	flowDeps
}

func NewChangePasswordHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *ChangePasswordHandler {
	return &ChangePasswordHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password change")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByIdentifier(ctx, event.UserID.String())
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if err := h.hasher.ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
		return ErrCurrentPasswordMismatch
	}

	hash, err := h.hasher.HashPassword(event.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	if err := h.repo.Users().ResetPassword(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
	}

	h.emit(ctx, ActivityEventPasswordChanged, userActor(user), user.ID.String(), nil)
	return nil
}
