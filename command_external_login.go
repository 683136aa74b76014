package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

var ErrExternalEmailUnverified = goerrors.New("provider email is not verified", goerrors.CategoryAuth).
	WithTextCode("EXTERNAL_EMAIL_UNVERIFIED").
	WithCode(goerrors.CodeUnauthorized)

var ErrExternalSignupDisabled = goerrors.New("signup through external providers is disabled", goerrors.CategoryAuthz).
	WithTextCode("EXTERNAL_SIGNUP_DISABLED").
	WithCode(goerrors.CodeForbidden)

// ExternalProfile is what an OAuth provider tells us about the account
// holder once the authorization code has been exchanged.
type ExternalProfile struct {
	Provider      string
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

func (p ExternalProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Provider, validation.Required),
		validation.Field(&p.ExternalID, validation.Required),
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

// ExternalProfileResolver trades an authorization code for a profile
type ExternalProfileResolver interface {
	Resolve(ctx context.Context, provider, code, verifier string) (*ExternalProfile, error)
}

type ExternalLoginMessage struct {
	Profile    ExternalProfile
	OnResponse func(user *User)
}

func (e ExternalLoginMessage) Type() string { return "user.external_login" }

// ExternalLoginHandler finds the user behind a provider profile. Lookup
// goes by provider id, then by email (the account gets linked), and
// finally provisions a new ACTIVE user.
type ExternalLoginHandler struct {
	flowDeps
}

func NewExternalLoginHandler(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *ExternalLoginHandler {
	return &ExternalLoginHandler{flowDeps: newFlowDeps(repo, tokens, opts...)}
}

func (h *ExternalLoginHandler) Execute(ctx context.Context, event ExternalLoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during external login",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ExternalLoginHandler) execute(ctx context.Context, event ExternalLoginMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	profile := event.Profile
	profile.Provider = strings.ToLower(strings.TrimSpace(profile.Provider))
	profile.Email = NormalizeEmail(profile.Email)

	if err := profile.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "incomplete provider profile")
	}

	if !profile.EmailVerified {
		return withMeta(ErrExternalEmailUnverified, map[string]any{"provider": profile.Provider})
	}

	user, how, err := h.resolve(ctx, profile)
	if err != nil {
		return err
	}

	switch user.Status {
	case UserStatusLocked:
		return withMeta(ErrUserLocked, map[string]any{"user_id": user.ID.String()})
	case UserStatusInactive:
		return withMeta(ErrUserInactive, map[string]any{"user_id": user.ID.String()})
	}

	h.emit(ctx, ActivityEventSocialLogin, userActor(user), user.ID.String(), map[string]any{
		"provider": profile.Provider,
		"result":   how,
	})

	if event.OnResponse != nil {
		event.OnResponse(user)
	}
	return nil
}

func (h *ExternalLoginHandler) resolve(ctx context.Context, profile ExternalProfile) (*User, string, error) {
	users := h.repo.Users()

	user, err := users.FindByExternalID(ctx, profile.Provider, profile.ExternalID)
	if err == nil {
		return user, "matched", nil
	}
	if !IsIdentityNotFound(err) {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up external identity")
	}

	user, err = users.FindByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		user, err = h.link(ctx, user, profile)
		return user, "linked", err
	case !IsIdentityNotFound(err):
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user by email")
	}

	if !h.externalSignup {
		return nil, "", withMeta(ErrExternalSignupDisabled, map[string]any{"provider": profile.Provider})
	}

	user, err = h.provision(ctx, profile)
	return user, "provisioned", err
}

// link attaches the provider identity to an existing account. The
// provider vouches for the email so a pending account is activated.
func (h *ExternalLoginHandler) link(ctx context.Context, user *User, profile ExternalProfile) (*User, error) {
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return h.repo.Users().LinkExternalTx(ctx, tx, user.ID, profile.Provider, profile.ExternalID)
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link external identity")
	}
	user.ExternalProvider = profile.Provider
	user.ExternalProviderID = profile.ExternalID

	user.EnsureStatus()
	if user.Status == UserStatusPending {
		user, err = h.states.Transition(ctx, userActor(user), user, UserStatusActive,
			WithTransitionReason("verified by "+profile.Provider))
		if err != nil {
			return nil, asRichError(err, "failed to activate linked user")
		}
	}

	return user, nil
}

func (h *ExternalLoginHandler) provision(ctx context.Context, profile ExternalProfile) (*User, error) {
	record := &User{
		Email:              profile.Email,
		FullName:           profile.Name,
		ProfilePicture:     profile.AvatarURL,
		Role:               RoleUser,
		Status:             UserStatusActive,
		EmailVerified:      true,
		ExternalProvider:   profile.Provider,
		ExternalProviderID: profile.ExternalID,
	}
	if h.useHashid {
		if id, err := hashid.NewUUID(profile.Email); err == nil {
			record.ID = id
		}
	}

	user, err := h.repo.Users().Register(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, withMeta(ErrEmailTaken, map[string]any{"email": profile.Email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not provision user")
	}

	h.emit(ctx, ActivityEventUserRegistered, userActor(user), user.ID.String(), map[string]any{
		"email":    user.Email,
		"provider": profile.Provider,
	})

	return user, nil
}
