package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	DefaultVerificationTTL  = 24 * time.Hour
	DefaultPasswordResetTTL = time.Hour
	DefaultPhoneRegion      = "US"
)

// flowDeps are the collaborators shared by the account flow handlers
type flowDeps struct {
	repo        RepositoryManager
	tokens      *TokenManager
	hasher      PasswordHasher
	notifier    Notifier
	states      UserStateMachine
	activity    ActivitySink
	logger      Logger
	now         func() time.Time
	frontendURL string
	verifyTTL   time.Duration
	resetTTL    time.Duration
	phoneRegion string
	useHashid   bool

	// externalSignup lets unknown provider profiles create accounts
	externalSignup bool
}

// FlowOption configures the account flow handlers
type FlowOption func(*flowDeps)

func WithFlowHasher(hasher PasswordHasher) FlowOption {
	return func(d *flowDeps) {
		if hasher != nil {
			d.hasher = hasher
		}
	}
}

// WithFlowNotifier sets how verification and reset tokens are delivered
func WithFlowNotifier(notifier Notifier) FlowOption {
	return func(d *flowDeps) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

func WithFlowStateMachine(sm UserStateMachine) FlowOption {
	return func(d *flowDeps) {
		d.states = sm
	}
}

func WithFlowActivitySink(sink ActivitySink) FlowOption {
	return func(d *flowDeps) {
		d.activity = normalizeActivitySink(sink)
	}
}

func WithFlowLogger(logger Logger) FlowOption {
	return func(d *flowDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithFlowClock(clock func() time.Time) FlowOption {
	return func(d *flowDeps) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithFrontendURL is the base of the links sent in notifications
func WithFrontendURL(url string) FlowOption {
	return func(d *flowDeps) {
		d.frontendURL = url
	}
}

// WithTokenTTLs overrides the verification and reset token lifetimes
func WithTokenTTLs(verify, reset time.Duration) FlowOption {
	return func(d *flowDeps) {
		if verify > 0 {
			d.verifyTTL = verify
		}
		if reset > 0 {
			d.resetTTL = reset
		}
	}
}

// WithPhoneRegion is the region assumed for numbers without a country code
func WithPhoneRegion(region string) FlowOption {
	return func(d *flowDeps) {
		if region != "" {
			d.phoneRegion = region
		}
	}
}

// WithHashidIDs derives user IDs from the email instead of random UUIDs
func WithHashidIDs(enabled bool) FlowOption {
	return func(d *flowDeps) {
		d.useHashid = enabled
	}
}

func WithExternalSignup(enabled bool) FlowOption {
	return func(d *flowDeps) {
		d.externalSignup = enabled
	}
}

// FlowOptionsFromConfig maps Config onto flow options
func FlowOptionsFromConfig(cfg Config) []FlowOption {
	return []FlowOption{
		WithFrontendURL(cfg.GetFrontendURL()),
		WithTokenTTLs(cfg.GetVerificationTTL(), cfg.GetPasswordResetTTL()),
	}
}

func newFlowDeps(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) flowDeps {
	d := flowDeps{
		repo:        repo,
		tokens:      tokens,
		hasher:      NewBcryptHasher(0),
		activity:    noopActivitySink{},
		logger:      defLogger{},
		now:         time.Now,
		verifyTTL:   DefaultVerificationTTL,
		resetTTL:    DefaultPasswordResetTTL,
		phoneRegion: DefaultPhoneRegion,

		externalSignup: true,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&d)
		}
	}

	if d.notifier == nil {
		d.notifier = LogNotifier(d.logger)
	}

	if d.states == nil {
		d.states = NewUserStateMachine(repo.Users(),
			WithStateMachineActivitySink(d.activity),
			WithStateMachineLogger(d.logger),
			WithStateMachineClock(d.now),
		)
	}

	return d
}

func (d *flowDeps) ttlFor(purpose TokenPurpose) time.Duration {
	if purpose == PurposePasswordReset {
		return d.resetTTL
	}
	return d.verifyTTL
}

// issueAndNotify issues a token for user and hands it to the notifier.
// Delivery problems are logged; the token stays valid either way.
func (d *flowDeps) issueAndNotify(ctx context.Context, user *User, purpose TokenPurpose) error {
	tok, err := d.tokens.Issue(ctx, user.ID, purpose, d.ttlFor(purpose))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue token").
			WithMetadata(map[string]any{"purpose": purpose})
	}

	err = d.notifier.Notify(ctx, Notification{
		User:      user,
		Purpose:   purpose,
		Token:     tok.Value,
		Link:      TokenLink(d.frontendURL, purpose, tok.Value),
		ExpiresAt: tok.ExpiresAt,
	})
	if err != nil {
		d.logger.Error("failed to notify user %s for %s: %v", user.ID, purpose, err)
	}

	return nil
}

// consumeTx redeems a token inside tx and folds every token failure into
// ErrInvalidToken. Store failures pass through.
func (d *flowDeps) consumeTx(ctx context.Context, tx bun.IDB, value string, purpose TokenPurpose) (*EphemeralToken, error) {
	tok, err := d.tokens.ConsumeTx(ctx, tx, value, purpose)
	if err != nil {
		if IsTokenNotFound(err) || IsTokenExpiredError(err) || IsTokenConsumed(err) {
			d.logger.Debug("%s token rejected: %v", purpose, err)
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return tok, nil
}

func (d *flowDeps) emit(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	recordActivity(ctx, d.activity, d.logger, d.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	})
}

func userActor(user *User) ActorRef {
	return ActorRef{ID: user.ID.String(), Type: "user"}
}

// asRichError returns err unchanged when it already is a rich error,
// otherwise wraps it as internal with msg
func asRichError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

// Flows groups the account flow handlers
type Flows struct {
	Register           *RegisterUserHandler
	ResendVerification *ResendVerificationHandler
	VerifyEmail        *VerifyEmailHandler
	ForgotPassword     *InitializePasswordResetHandler
	ResetPassword      *FinalizePasswordResetHandler
	ChangePassword     *ChangePasswordHandler
	UpdateProfile      *UpdateProfileHandler
	UserStatus         *UserStatusHandler
	ExternalLogin      *ExternalLoginHandler
}

func NewFlows(repo RepositoryManager, tokens *TokenManager, opts ...FlowOption) *Flows {
	d := newFlowDeps(repo, tokens, opts...)
	return &Flows{
		Register:           &RegisterUserHandler{flowDeps: d},
		ResendVerification: &ResendVerificationHandler{flowDeps: d},
		VerifyEmail:        &VerifyEmailHandler{flowDeps: d},
		ForgotPassword:     &InitializePasswordResetHandler{flowDeps: d},
		ResetPassword:      &FinalizePasswordResetHandler{flowDeps: d},
		ChangePassword:     &ChangePasswordHandler{flowDeps: d},
		UpdateProfile:      &UpdateProfileHandler{flowDeps: d},
		UserStatus:         &UserStatusHandler{flowDeps: d},
		ExternalLogin:      &ExternalLoginHandler{flowDeps: d},
	}
}
