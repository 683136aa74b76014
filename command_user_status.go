package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type UserStatusMessage struct {
	Actor      ActorRef
	UserID     uuid.UUID
	Target     UserStatus
	Reason     string
	OnResponse func(user *User)
}

func (e UserStatusMessage) Type() string { return "user.status" }

// LockUser builds the message that locks a user
func LockUser(actor ActorRef, id uuid.UUID, reason string) UserStatusMessage {
	return UserStatusMessage{Actor: actor, UserID: id, Target: UserStatusLocked, Reason: reason}
}

// UnlockUser builds the message that unlocks a user
func UnlockUser(actor ActorRef, id uuid.UUID, reason string) UserStatusMessage {
	return UserStatusMessage{Actor: actor, UserID: id, Target: UserStatusActive, Reason: reason}
}

// UserStatusHandler moves a user through the lifecycle on behalf of an
// administrator. Unlocking only applies to LOCKED users.
type UserStatusHandler struct {
	flowDeps
}

func NewUserStatusHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *UserStatusHandler {
	return &UserStatusHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *UserStatusHandler) Execute(ctx context.Context, event UserStatusMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during status change")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UserStatusHandler) execute(ctx context.Context, event UserStatusMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByIdentifier(ctx, event.UserID.String())
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ErrIdentityNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	user.EnsureStatus()
	if event.Target == UserStatusActive && user.Status != UserStatusLocked {
		return withMeta(ErrInvalidTransition, map[string]any{
			"from":   user.Status,
			"to":     event.Target,
			"reason": "only locked users can be unlocked",
		})
	}

	updated, err := h.states.Transition(ctx, event.Actor, user, event.Target,
		WithTransitionReason(event.Reason))
	if err != nil {
		return asRichError(err, "failed to change user status")
	}

	if event.OnResponse != nil {
		event.OnResponse(updated)
	}
	return nil
}
