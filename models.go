package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role for registered accounts
	RoleUser UserRole = "user"
	// RoleAdmin can lock and unlock accounts
	RoleAdmin UserRole = "admin"
)

// UserStatus is the account lifecycle state
type UserStatus string

const (
	UserStatusPending  UserStatus = "PENDING_VERIFICATION"
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusLocked   UserStatus = "LOCKED"
	UserStatusInactive UserStatus = "INACTIVE"
)

// User is the user model
type User struct {
	bun.BaseModel      `bun:"table:users,alias:usr"`
	ID                 uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email              string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash       string     `bun:"password_hash" json:"-"`
	FullName           string     `bun:"full_name" json:"full_name,omitempty"`
	Phone              string     `bun:"phone_number" json:"phone_number,omitempty"`
	ProfilePicture     string     `bun:"profile_picture" json:"profile_picture,omitempty"`
	Role               UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Status             UserStatus `bun:"status,notnull" json:"status,omitempty"`
	EmailVerified      bool       `bun:"is_email_verified,notnull" json:"is_email_verified"`
	ExternalProvider   string     `bun:"external_provider" json:"external_provider,omitempty"`
	ExternalProviderID string     `bun:"external_provider_id" json:"-"`
	LoginAttempts      int        `bun:"login_attempts" json:"-"`
	LoginAttemptAt     *time.Time `bun:"login_attempt_at" json:"-"`
	LoggedInAt         *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	LockedAt           *time.Time `bun:"locked_at,nullzero" json:"locked_at,omitempty"`
	CreatedAt          *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

var _ Principal = (*User)(nil)

// SubjectClaim is the email, the stable identity key carried in bearer tokens
func (u *User) SubjectClaim() string {
	return u.Email
}

func (u *User) CredentialHash() string {
	return u.PasswordHash
}

// IsUsable is true only for ACTIVE accounts with a verified email
func (u *User) IsUsable() bool {
	if u == nil {
		return false
	}
	return u.Status == UserStatusActive && u.EmailVerified
}

func (u *User) Roles() []string {
	if u.Role == "" {
		return []string{string(RoleUser)}
	}
	return []string{string(u.Role)}
}

// EnsureStatus defaults an empty status to pending verification
func (u *User) EnsureStatus() {
	if u != nil && u.Status == "" {
		u.Status = UserStatusPending
	}
}

// Activate marks the email verified and the account active
func (u *User) Activate() {
	u.Status = UserStatusActive
	u.EmailVerified = true
}

func (u *User) Lock(at time.Time) {
	u.Status = UserStatusLocked
	u.LockedAt = &at
}

func (u *User) Unlock() {
	u.Status = UserStatusActive
	u.LockedAt = nil
}

func (u *User) Deactivate() {
	u.Status = UserStatusInactive
}

func (u *User) SetPasswordHash(hash string) {
	u.PasswordHash = hash
}

// ProfileUpdate carries the mutable profile fields, nil means unchanged
type ProfileUpdate struct {
	FullName       *string
	Phone          *string
	ProfilePicture *string
}

func (u *User) UpdateProfile(p ProfileUpdate) {
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.ProfilePicture != nil {
		u.ProfilePicture = *p.ProfilePicture
	}
}

// TokenPurpose scopes an ephemeral token to a single flow
type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "EMAIL_VERIFY"
	PurposePasswordReset TokenPurpose = "PASSWORD_RESET"
)

func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// EphemeralToken is a single-use, expiring token bound to one owner and purpose
type EphemeralToken struct {
	bun.BaseModel `bun:"table:ephemeral_tokens,alias:etk"`
	ID            uuid.UUID    `bun:"id,pk,type:uuid" json:"id"`
	Value         string       `bun:"value,notnull,unique" json:"-"`
	Purpose       TokenPurpose `bun:"purpose,notnull" json:"purpose"`
	OwnerID       uuid.UUID    `bun:"owner_id,notnull,type:uuid" json:"owner_id"`
	ExpiresAt     time.Time    `bun:"expires_at,notnull" json:"expires_at"`
	Consumed      bool         `bun:"consumed,notnull" json:"consumed"`
	IssuedAt      time.Time    `bun:"issued_at,notnull" json:"issued_at"`
}

// IsValid reports whether the token can still be consumed at now
func (t *EphemeralToken) IsValid(now time.Time) bool {
	if t == nil {
		return false
	}
	return !t.Consumed && now.Before(t.ExpiresAt)
}

func (t *EphemeralToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// check classifies why a token cannot be consumed at now
func (t *EphemeralToken) check(now time.Time) error {
	switch {
	case t.Consumed:
		return ErrTokenConsumed
	case t.IsExpired(now):
		return ErrTokenExpired
	default:
		return nil
	}
}
