package config

import (
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/ovigia/authd"
	"github.com/ovigia/authd/notify"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every environment variable, e.g.
// AUTH_BEARER_SIGNING_KEY
const EnvPrefix = "AUTH"

const minSigningKeyBytes = 32

const (
	StoreSQL    = "sql"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type ServerConfig struct {
	Addr            string        `koanf:"addr" split_words:"true"`
	ReadTimeout     time.Duration `koanf:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `koanf:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" split_words:"true"`
	Debug           bool          `koanf:"debug" split_words:"true"`
}

type DatabaseConfig struct {
	Driver      string `koanf:"driver" split_words:"true"`
	DSN         string `koanf:"dsn" split_words:"true"`
	AutoMigrate bool   `koanf:"auto_migrate" split_words:"true"`
}

type BearerConfig struct {
	SigningKey      string   `koanf:"signing_key" split_words:"true"`
	ExpirationHours int      `koanf:"expiration_hours" split_words:"true"`
	Issuer          string   `koanf:"issuer" split_words:"true"`
	Audience        []string `koanf:"audience" split_words:"true"`
}

type GateConfig struct {
	ContextKey     string   `koanf:"context_key" split_words:"true"`
	Header         string   `koanf:"header" split_words:"true"`
	Scheme         string   `koanf:"scheme" split_words:"true"`
	PublicPaths    []string `koanf:"public_paths" split_words:"true"`
	PublicPrefixes []string `koanf:"public_prefixes" split_words:"true"`
}

type TokenConfig struct {
	VerificationTTL  time.Duration `koanf:"verification_ttl" split_words:"true"`
	PasswordResetTTL time.Duration `koanf:"password_reset_ttl" split_words:"true"`
	PruneInterval    time.Duration `koanf:"prune_interval" split_words:"true"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" split_words:"true"`
	Password string `koanf:"password" split_words:"true"`
	DB       int    `koanf:"db" split_words:"true"`
	Prefix   string `koanf:"prefix" split_words:"true"`
}

// StoreConfig selects where ephemeral tokens live
type StoreConfig struct {
	Backend string      `koanf:"backend" split_words:"true"`
	Redis   RedisConfig `koanf:"redis" envconfig:"REDIS"`
}

type PasswordConfig struct {
	Hasher     string `koanf:"hasher" split_words:"true"`
	BcryptCost int    `koanf:"bcrypt_cost" split_words:"true"`
}

type LoginConfig struct {
	MaxAttempts int           `koanf:"max_attempts" split_words:"true"`
	Cooldown    time.Duration `koanf:"cooldown" split_words:"true"`
}

// SMTPConfig is used when Host is set, otherwise links are only logged
type SMTPConfig struct {
	Host     string        `koanf:"host" split_words:"true"`
	Port     int           `koanf:"port" split_words:"true"`
	Username string        `koanf:"username" split_words:"true"`
	Password string        `koanf:"password" split_words:"true"`
	From     string        `koanf:"from" split_words:"true"`
	TLS      string        `koanf:"tls" split_words:"true"`
	Timeout  time.Duration `koanf:"timeout" split_words:"true"`
}

func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

func (s SMTPConfig) Notify() notify.Config {
	return notify.Config{
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		From:     s.From,
		TLS:      s.TLS,
		Timeout:  s.Timeout,
	}
}

type ProviderConfig struct {
	ClientID     string   `koanf:"client_id" split_words:"true"`
	ClientSecret string   `koanf:"client_secret" split_words:"true"`
	CallbackURL  string   `koanf:"callback_url" split_words:"true"`
	Scopes       []string `koanf:"scopes" split_words:"true"`
}

func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type OAuthConfig struct {
	StateSecret     string         `koanf:"state_secret" split_words:"true"`
	StateTTL        time.Duration  `koanf:"state_ttl" split_words:"true"`
	SuccessRedirect string         `koanf:"success_redirect" split_words:"true"`
	Signup          bool           `koanf:"signup" split_words:"true"`
	GitHub          ProviderConfig `koanf:"github" envconfig:"GITHUB"`
	Google          ProviderConfig `koanf:"google" envconfig:"GOOGLE"`
}

// Enabled reports whether any provider has credentials
func (o OAuthConfig) Enabled() bool {
	return o.GitHub.Enabled() || o.Google.Enabled()
}

type LogConfig struct {
	Level  string `koanf:"level" split_words:"true"`
	Format string `koanf:"format" split_words:"true"`
}

// Config is the full daemon configuration
type Config struct {
	AppName     string `koanf:"app_name" split_words:"true"`
	FrontendURL string `koanf:"frontend_url" split_words:"true"`
	PhoneRegion string `koanf:"phone_region" split_words:"true"`
	HashidIDs   bool   `koanf:"hashid_ids" envconfig:"HASHID_IDS"`

	Server   ServerConfig   `koanf:"server" envconfig:"SERVER"`
	Database DatabaseConfig `koanf:"database" envconfig:"DATABASE"`
	Bearer   BearerConfig   `koanf:"bearer" envconfig:"BEARER"`
	Gate     GateConfig     `koanf:"gate" envconfig:"GATE"`
	Tokens   TokenConfig    `koanf:"tokens" envconfig:"TOKENS"`
	Store    StoreConfig    `koanf:"store" envconfig:"STORE"`
	Password PasswordConfig `koanf:"password" envconfig:"PASSWORD"`
	Login    LoginConfig    `koanf:"login" envconfig:"LOGIN"`
	SMTP     SMTPConfig     `koanf:"smtp" envconfig:"SMTP"`
	OAuth    OAuthConfig    `koanf:"oauth" envconfig:"OAUTH"`
	Log      LogConfig      `koanf:"log" envconfig:"LOG"`
}

var _ auth.Config = (*Config)(nil)

// Default returns a configuration that runs locally against sqlite.
// It has no signing key, so Validate fails until one is provided.
func Default() *Config {
	return &Config{
		AppName:     "authd",
		FrontendURL: "http://localhost:3000",
		PhoneRegion: auth.DefaultPhoneRegion,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:      auth.DriverSQLite,
			DSN:         "file:authd.db?cache=shared",
			AutoMigrate: true,
		},
		Bearer: BearerConfig{
			ExpirationHours: 24,
			Issuer:          "authd",
		},
		Gate: GateConfig{
			ContextKey:     "user",
			Header:         "Authorization",
			Scheme:         auth.DefaultAuthScheme,
			PublicPaths:    auth.DefaultPublicPaths(),
			PublicPrefixes: auth.DefaultPublicPrefixes(),
		},
		Tokens: TokenConfig{
			VerificationTTL:  auth.DefaultVerificationTTL,
			PasswordResetTTL: auth.DefaultPasswordResetTTL,
			PruneInterval:    time.Hour,
		},
		Store: StoreConfig{
			Backend: StoreSQL,
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
		},
		Password: PasswordConfig{
			Hasher: "bcrypt",
		},
		Login: LoginConfig{
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port: 587,
			TLS:  notify.TLSMandatory,
		},
		OAuth: OAuthConfig{
			Signup: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"config":        "",
	"addr":          "server.addr",
	"debug":         "server.debug",
	"db-driver":     "database.driver",
	"db-dsn":        "database.dsn",
	"auto-migrate":  "database.auto_migrate",
	"store":         "store.backend",
	"redis-addr":    "store.redis.addr",
	"frontend-url":  "frontend_url",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"smtp-host":     "smtp.host",
	"smtp-port":     "smtp.port",
	"smtp-from":     "smtp.from",
	"prune-every":   "tokens.prune_interval",
	"hasher":        "password.hasher",
	"bearer-issuer": "bearer.issuer",
}

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// come from Default, but only flags set explicitly take part in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.Bool("debug", d.Server.Debug, "include error details in responses")
	fs.String("db-driver", d.Database.Driver, "database driver (sqlite or postgres)")
	fs.String("db-dsn", d.Database.DSN, "database connection string")
	fs.Bool("auto-migrate", d.Database.AutoMigrate, "apply migrations on start")
	fs.String("store", d.Store.Backend, "token store backend (sql, memory or redis)")
	fs.String("redis-addr", d.Store.Redis.Addr, "redis address for the redis token store")
	fs.String("frontend-url", d.FrontendURL, "base URL used in emailed links")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("smtp-host", d.SMTP.Host, "SMTP relay host, empty logs links instead of mailing")
	fs.Int("smtp-port", d.SMTP.Port, "SMTP relay port")
	fs.String("smtp-from", d.SMTP.From, "sender address for emails")
	fs.Duration("prune-every", d.Tokens.PruneInterval, "interval between expired token sweeps")
	fs.String("hasher", d.Password.Hasher, "password hasher (bcrypt or argon2id)")
	fs.String("bearer-issuer", d.Bearer.Issuer, "issuer claim of bearer tokens")
}

// Load builds the configuration from Default, then the YAML file at path
// (if any), then AUTH_* environment variables, then flags changed on fs.
// A nil fs skips the flag layer.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	unmarshal := koanf.UnmarshalConf{Tag: "koanf"}

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshal); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid environment configuration")
	}

	if fs != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, any) {
			key := flagKeys[f.Name]
			if key == "" || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to read flags")
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshal); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid flag value")
		}
	}

	return cfg, nil
}

// Validate reports the first setting that would keep the daemon from
// running correctly
func (c *Config) Validate() error {
	switch {
	case len(c.Bearer.SigningKey) < minSigningKeyBytes:
		return invalid("bearer.signing_key", "must be at least 32 bytes")
	case c.Bearer.ExpirationHours <= 0:
		return invalid("bearer.expiration_hours", "must be positive")
	case c.Tokens.VerificationTTL <= 0:
		return invalid("tokens.verification_ttl", "must be positive")
	case c.Tokens.PasswordResetTTL <= 0:
		return invalid("tokens.password_reset_ttl", "must be positive")
	case c.Tokens.PruneInterval < 0:
		return invalid("tokens.prune_interval", "must not be negative")
	case c.Login.MaxAttempts < 0:
		return invalid("login.max_attempts", "must not be negative")
	}

	switch strings.ToLower(c.Database.Driver) {
	case auth.DriverSQLite, "sqlite3", auth.DriverPostgres, "pgx", "postgresql":
	default:
		return invalid("database.driver", "must be sqlite or postgres")
	}

	switch strings.ToLower(c.Store.Backend) {
	case StoreSQL, StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr", "is required for the redis store")
		}
	default:
		return invalid("store.backend", "must be sql, memory or redis")
	}

	if _, err := auth.NewPasswordHasher(c.Password.Hasher); err != nil {
		return invalid("password.hasher", "must be bcrypt or argon2id")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text")
	}

	if c.SMTP.Enabled() && c.SMTP.From == "" {
		return invalid("smtp.from", "is required when smtp.host is set")
	}

	if c.OAuth.Enabled() && len(c.OAuth.StateSecret) < minSigningKeyBytes {
		return invalid("oauth.state_secret", "must be at least 32 bytes when a provider is configured")
	}

	return nil
}

func invalid(key, reason string) error {
	return goerrors.New("invalid configuration: "+key+" "+reason, goerrors.CategoryValidation).
		WithTextCode("INVALID_CONFIG").
		WithMetadata(map[string]any{"key": key})
}

// PasswordHasher builds the configured hasher
func (c *Config) PasswordHasher() (auth.PasswordHasher, error) {
	if strings.EqualFold(c.Password.Hasher, "bcrypt") {
		return auth.NewBcryptHasher(c.Password.BcryptCost), nil
	}
	return auth.NewPasswordHasher(c.Password.Hasher)
}

func (c *Config) GetSigningKey() string {
	return c.Bearer.SigningKey
}

func (c *Config) GetTokenExpiration() int {
	return c.Bearer.ExpirationHours
}

func (c *Config) GetIssuer() string {
	return c.Bearer.Issuer
}

func (c *Config) GetAudience() []string {
	return c.Bearer.Audience
}

func (c *Config) GetContextKey() string {
	return c.Gate.ContextKey
}

func (c *Config) GetAuthHeader() string {
	return c.Gate.Header
}

func (c *Config) GetAuthScheme() string {
	return c.Gate.Scheme
}

func (c *Config) GetPublicPaths() []string {
	return c.Gate.PublicPaths
}

func (c *Config) GetPublicPrefixes() []string {
	return c.Gate.PublicPrefixes
}

func (c *Config) GetVerificationTTL() time.Duration {
	return c.Tokens.VerificationTTL
}

func (c *Config) GetPasswordResetTTL() time.Duration {
	return c.Tokens.PasswordResetTTL
}

func (c *Config) GetFrontendURL() string {
	return c.FrontendURL
}
