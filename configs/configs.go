package configs

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	HKDFInfo        = []byte("secure-room session key")
	ServerAddress   = "localhost:8080"
	RedisAddress    = "localhost:6379"
	PublishKeysPath = "/keys"
	WebSocketPath   = "/ws/chat/"
	UploadPath      = "/upload"
	DownloadPath    = "/download/"
	SessionPath     = "/session"
	RegisterPath    = "/register"

	SessionCookieName = "session"
	CSRFHeaderName    = "X-CSRFToken"
	UndecryptableText = "[unable to decrypt]"

	// Redis keys

	ServerRoomKeysKey = "room:keys:%s"
	ServerAccountsKey = "accounts"

	DefaultJWTSecret = "change-me"

	ThrottleWindow = 2 * time.Second
	TypingIdle     = 3 * time.Second
)

// Config holds the runtime settings for both the chat client and the reference server.
type Config struct {
	// client
	ServerAddress  string
	UseTLS         bool
	KeyStorePath   string
	DeviceID       string
	ThrottleWindow time.Duration
	TypingIdle     time.Duration
	LogLevel       string

	// server
	ListenAddress     string
	RedisAddress      string
	S3Bucket          string
	S3Region          string
	S3BaseEndpoint    string
	S3AccessKey       string
	S3SecretKey       string
	JWTSecret         string
	SessionTTL        time.Duration
	PingInterval      time.Duration
	RateLimitMessages int
	RateLimitWindow   time.Duration
	MaxUploadBytes    int64
}

func Default() *Config {
	return &Config{
		ServerAddress:     ServerAddress,
		KeyStorePath:      "secure-room.db",
		DeviceID:          "default",
		ThrottleWindow:    ThrottleWindow,
		TypingIdle:        TypingIdle,
		LogLevel:          "info",
		ListenAddress:     ":8080",
		S3Region:          "us-east-1",
		JWTSecret:         DefaultJWTSecret,
		SessionTTL:        24 * time.Hour,
		PingInterval:      30 * time.Second,
		RateLimitMessages: 10,
		RateLimitWindow:   5 * time.Second,
		MaxUploadBytes:    32 << 20,
	}
}

// Load returns the defaults overlaid by the given .env files (missing files are skipped)
// and then by the process environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServerAddress, "SERVER_ADDRESS")
	setString(&c.KeyStorePath, "KEYSTORE_PATH")
	setString(&c.DeviceID, "DEVICE_ID")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ListenAddress, "LISTEN_ADDRESS")
	setString(&c.RedisAddress, "REDIS_ADDRESS")
	setString(&c.S3Bucket, "S3_BUCKET")
	setString(&c.S3Region, "S3_REGION")
	setString(&c.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	setString(&c.S3AccessKey, "S3_ACCESS_KEY")
	setString(&c.S3SecretKey, "S3_SECRET_KEY")
	setString(&c.JWTSecret, "JWT_SECRET")

	if err := setBool(&c.UseTLS, "USE_TLS"); err != nil {
		return err
	}
	for name, dst := range map[string]*time.Duration{
		"THROTTLE_WINDOW":   &c.ThrottleWindow,
		"TYPING_IDLE":       &c.TypingIdle,
		"SESSION_TTL":       &c.SessionTTL,
		"PING_INTERVAL":     &c.PingInterval,
		"RATE_LIMIT_WINDOW": &c.RateLimitWindow,
	} {
		if err := setDuration(dst, name); err != nil {
			return err
		}
	}
	if v, ok := os.LookupEnv("RATE_LIMIT_MESSAGES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse RATE_LIMIT_MESSAGES: %w", err)
		}
		c.RateLimitMessages = n
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// HTTPBaseURL is the scheme and host used for the key directory and upload proxy.
func (c *Config) HTTPBaseURL() string {
	if c.UseTLS {
		return "https://" + c.ServerAddress
	}
	return "http://" + c.ServerAddress
}

// WebSocketURL builds the relay endpoint for a room.
func (c *Config) WebSocketURL(room string) string {
	scheme := "ws"
	if c.UseTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, c.ServerAddress, WebSocketPath, url.PathEscape(room))
}

// NewLogger returns a logrus logger at the configured level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	*dst = d
	return nil
}
