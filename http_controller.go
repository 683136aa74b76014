package auth

import (
	"context"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

type AuthControllerRoutes struct {
	Register           string
	ResendVerification string
	VerifyEmail        string
	ForgotPassword     string
	ResetPassword      string
	Login              string
	Me                 string
	MePassword         string
	LockUser           string
	UnlockUser         string
	Health             string
	Metrics            string
}

// DefaultRoutes are the routes the API is served on
func DefaultRoutes() *AuthControllerRoutes {
	return &AuthControllerRoutes{
		Register:           "/api/auth/register",
		ResendVerification: "/api/auth/verify-email/resend",
		VerifyEmail:        "/api/auth/verify-email",
		ForgotPassword:     "/api/auth/forgot-password",
		ResetPassword:      "/api/auth/reset-password",
		Login:              "/api/auth/login",
		Me:                 "/api/users/me",
		MePassword:         "/api/users/me/password",
		LockUser:           "/api/admin/users/:id/lock",
		UnlockUser:         "/api/admin/users/:id/unlock",
		Health:             "/health",
		Metrics:            "/metrics",
	}
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Flows        *Flows
	Auther       *Authenticator
	Routes       *AuthControllerRoutes
	RequireUser  router.MiddlewareFunc
	RequireAdmin router.MiddlewareFunc
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Repo = repo
		return ac
	}
}

func WithControllerFlows(flows *Flows) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Flows = flows
		return ac
	}
}

func WithControllerAuthenticator(auther *Authenticator) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Auther = auther
		return ac
	}
}

// WithRouteGuards sets the middleware protecting user and admin routes
func WithRouteGuards(user, admin router.MiddlewareFunc) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.RequireUser = user
		ac.RequireAdmin = admin
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: DefaultRoutes(),
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Flows == nil {
		panic("Missing Flows in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.RequireUser == nil || c.RequireAdmin == nil {
		panic("Missing route guards in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the account API on app
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	r := controller.Routes

	app.Post(r.Register, controller.RegistrationCreate)
	app.Post(r.ResendVerification, controller.ResendVerification)
	app.Post(r.VerifyEmail, controller.VerifyEmail)
	app.Post(r.ForgotPassword, controller.PasswordResetRequest)
	app.Post(r.ResetPassword, controller.PasswordResetExecute)
	app.Post(r.Login, controller.LoginPost)

	app.Get(r.Me, controller.ProfileShow, controller.RequireUser)
	app.Put(r.Me, controller.ProfileUpdate, controller.RequireUser)
	app.Post(r.MePassword, controller.PasswordChange, controller.RequireUser)

	app.Post(r.LockUser, controller.UserLock, controller.RequireAdmin)
	app.Post(r.UnlockUser, controller.UserUnlock, controller.RequireAdmin)

	app.Get(r.Health, controller.Health)

	return controller
}

// RegisterMetricsRoute exposes g on the fiber app behind the router. The
// prometheus handler speaks net/http, so it is mounted through the adaptor
// rather than as a router handler.
func RegisterMetricsRoute(app *fiber.App, path string, g prometheus.Gatherer) {
	if app == nil || g == nil {
		return
	}
	if path == "" {
		path = DefaultRoutes().Metrics
	}
	app.Get(path, adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

type validatable interface {
	Validate() error
}

func (a *AuthController) bind(c router.Context, payload validatable) error {
	if err := c.Bind(payload); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest)
	}

	if err := payload.Validate(); err != nil {
		return goerrors.New(err.Error(), goerrors.CategoryValidation).
			WithTextCode("VALIDATION_FAILED").
			WithCode(goerrors.CodeBadRequest)
	}

	return nil
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(MinPasswordLength, MaxPasswordLength),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	FullName string `json:"fullName" form:"fullName"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

func (a *AuthController) RegistrationCreate(c router.Context) error {
	payload := new(RegisterRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	var user *User
	err := a.Flows.Register.Execute(c.Context(), RegisterUserMessage{
		Email:      payload.Email,
		Password:   payload.Password,
		FullName:   payload.FullName,
		OnResponse: func(u *User) { user = u },
	})
	if err != nil {
		return err
	}

	return SendData(c, http.StatusCreated, user)
}

type EmailRequest struct {
	Email string `json:"email" form:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ResendVerification(c router.Context) error {
	payload := new(EmailRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := a.Flows.ResendVerification.Execute(c.Context(), ResendVerificationMessage{
		Email: payload.Email,
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, map[string]any{
		"message": "if the account exists and is pending verification, a new link has been sent",
	})
}

type TokenRequest struct {
	Token string `json:"token" form:"token"`
}

func (r TokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(1, 512)),
	)
}

func (a *AuthController) VerifyEmail(c router.Context) error {
	payload := new(TokenRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	var user *User
	if err := a.Flows.VerifyEmail.Execute(c.Context(), VerifyEmailMessage{
		Token:      payload.Token,
		OnResponse: func(u *User) { user = u },
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, user)
}

func (a *AuthController) PasswordResetRequest(c router.Context) error {
	payload := new(EmailRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := a.Flows.ForgotPassword.Execute(c.Context(), InitializePasswordResetMessage{
		Email: payload.Email,
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, map[string]any{
		"message": "if the account exists, a reset link has been sent",
	})
}

type ResetPasswordRequest struct {
	Token       string `json:"token" form:"token"`
	NewPassword string `json:"newPassword" form:"newPassword"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required, validation.Length(1, 512)),
		validation.Field(&r.NewPassword, passwordRules()...),
	)
}

func (a *AuthController) PasswordResetExecute(c router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := a.Flows.ResetPassword.Execute(c.Context(), FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.NewPassword,
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, map[string]any{"message": "password updated"})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := new(LoginRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if a.Debug {
		a.Logger.Debug("login attempt email=%s", payload.Email)
	}

	result, err := a.Auther.Login(c.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	return SendData(c, http.StatusOK, result)
}

func currentUser(c router.Context) (*User, error) {
	user, ok := UserFromContext(c.Context())
	if !ok {
		return nil, goerrors.New("authentication required", goerrors.CategoryAuth).
			WithTextCode("AUTHENTICATION_REQUIRED").
			WithCode(goerrors.CodeUnauthorized)
	}
	return user, nil
}

func (a *AuthController) ProfileShow(c router.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return SendData(c, http.StatusOK, user)
}

type UpdateProfileRequest struct {
	FullName       *string `json:"fullName" form:"fullName"`
	Phone          *string `json:"phone" form:"phone"`
	ProfilePicture *string `json:"profilePicture" form:"profilePicture"`
}

func (r UpdateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Phone, validation.Length(0, 32)),
		validation.Field(&r.ProfilePicture, validation.Length(0, 2048), is.URL),
	)
}

func (a *AuthController) ProfileUpdate(c router.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	payload := new(UpdateProfileRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	var updated *User
	if err := a.Flows.UpdateProfile.Execute(c.Context(), UpdateProfileMessage{
		UserID:         user.ID,
		FullName:       payload.FullName,
		Phone:          payload.Phone,
		ProfilePicture: payload.ProfilePicture,
		OnResponse:     func(u *User) { updated = u },
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, updated)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" form:"currentPassword"`
	NewPassword     string `json:"newPassword" form:"newPassword"`
}

func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, passwordRules()...),
	)
}

func (a *AuthController) PasswordChange(c router.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	payload := new(ChangePasswordRequest)
	if err := a.bind(c, payload); err != nil {
		return err
	}

	if err := a.Flows.ChangePassword.Execute(c.Context(), ChangePasswordMessage{
		UserID:          user.ID,
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
	}); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, map[string]any{"message": "password updated"})
}

type UserStatusRequest struct {
	Reason string `json:"reason" form:"reason"`
}

func (r UserStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

func (a *AuthController) UserLock(c router.Context) error {
	return a.changeStatus(c, LockUser)
}

func (a *AuthController) UserUnlock(c router.Context) error {
	return a.changeStatus(c, UnlockUser)
}

func (a *AuthController) changeStatus(c router.Context, build func(ActorRef, uuid.UUID, string) UserStatusMessage) error {
	id, err := ParseUserID(c.Param("id"))
	if err != nil {
		return err
	}

	payload := new(UserStatusRequest)
	if len(c.Body()) > 0 {
		if err := a.bind(c, payload); err != nil {
			return err
		}
	}

	var updated *User
	msg := build(ActorFromContext(c.Context()), id, payload.Reason)
	msg.OnResponse = func(u *User) { updated = u }

	if err := a.Flows.UserStatus.Execute(c.Context(), msg); err != nil {
		return err
	}

	return SendData(c, http.StatusOK, updated)
}

// Health reports whether the database answers
func (a *AuthController) Health(c router.Context) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	if err := a.Repo.Ping(ctx); err != nil {
		a.Logger.Error("health check failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, Envelope{
			Success: false,
			Data:    map[string]any{"database": "down"},
			Error:   "unavailable",
		})
	}

	return SendData(c, http.StatusOK, map[string]any{"database": "up"})
}
