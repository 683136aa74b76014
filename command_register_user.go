package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"fullName"`
	OnResponse func(user *User)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates a PENDING_VERIFICATION user and sends the
// email verification token.
type RegisterUserHandler struct {
	flowDeps
}

func NewRegisterUserHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *RegisterUserHandler {
	return &RegisterUserHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email := NormalizeEmail(event.Email)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := h.repo.Users().ExistsByEmailTx(ctx, tx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}
		if exists {
			return withMeta(ErrEmailTaken, map[string]any{"email": email})
		}

		hash, err := h.hasher.HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		record := &User{
			Email:        email,
			PasswordHash: hash,
			FullName:     event.FullName,
			Role:         RoleUser,
			Status:       UserStatusPending,
		}
		if h.useHashid {
			if id, err := hashid.NewUUID(email); err == nil {
				record.ID = id
			}
		}

		if user, err = h.repo.Users().RegisterTx(ctx, tx, record); err != nil {
			if isUniqueViolation(err) {
				return withMeta(ErrEmailTaken, map[string]any{"email": email})
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "user registration transaction failed")
	}

	h.emit(ctx, ActivityEventUserRegistered, userActor(user), user.ID.String(), map[string]any{
		"email": user.Email,
	})

	// the account exists from here on; a failed issue is recoverable
	// through the resend flow
	if err := h.issueAndNotify(ctx, user, PurposeEmailVerify); err != nil {
		h.logger.Error("verification token for %s not issued: %v", user.ID, err)
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}
