package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// ErrInvalidPhone the phone number cannot be parsed for the region
var ErrInvalidPhone = goerrors.New("invalid phone number", goerrors.CategoryValidation).
	WithTextCode("INVALID_PHONE").
	WithCode(goerrors.CodeBadRequest)

type UpdateProfileMessage struct {
	UserID         uuid.UUID `json:"-"`
	FullName       *string   `json:"fullName"`
	Phone          *string   `json:"phone"`
	ProfilePicture *string   `json:"profilePicture"`
	OnResponse     func(user *User)
}

func (e UpdateProfileMessage) Type() string { return "user.profile.update" }

// UpdateProfileHandler edits the mutable profile fields of a user
type UpdateProfileHandler struct {
	flowDeps
}

func NewUpdateProfileHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *UpdateProfileHandler {
	return &UpdateProfileHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during profile update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	update := ProfileUpdate{
		FullName:       event.FullName,
		ProfilePicture: event.ProfilePicture,
	}

	if event.Phone != nil {
		phone, err := NormalizePhone(*event.Phone, h.phoneRegion)
		if err != nil {
			return err
		}
		update.Phone = &phone
	}

	var updated *User
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.UserID.String())
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
		}

		user.UpdateProfile(update)

		if updated, err = h.repo.Users().UpdateProfileTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
		}
		return nil
	})
	if err != nil {
		return asRichError(err, "profile update transaction failed")
	}

	h.emit(ctx, ActivityEventProfileUpdated, userActor(updated), updated.ID.String(), nil)

	if event.OnResponse != nil {
		event.OnResponse(updated)
	}
	return nil
}

// NormalizePhone parses phone for region and formats it as E.164. An empty
// string clears the number.
func NormalizePhone(phone, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(phone, strings.ToUpper(region))
	if err != nil {
		return "", goerrors.Wrap(err, ErrInvalidPhone.Category, ErrInvalidPhone.Message).
			WithTextCode(ErrInvalidPhone.TextCode).
			WithCode(ErrInvalidPhone.Code)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", withMeta(ErrInvalidPhone, map[string]any{"region": region})
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
