package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	Env       string `envconfig:"ENV" default:"dev"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	HTTP      HTTPConfig
	Upload    UploadConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Archive   ArchiveConfig
	NATS      NATSConfig

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

// HTTPConfig 描述 HTTP 服务端参数。
type HTTPConfig struct {
	Port            string        `envconfig:"PORT" default:"8008"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"5m"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5m"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"2m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// UploadConfig 描述分块上传会话的参数。
type UploadConfig struct {
	StorageDir    string        `envconfig:"STORAGE_DIR" default:"./data"`
	IdleTimeout   time.Duration `envconfig:"UPLOAD_IDLE_TIMEOUT" default:"60s"`
	MaxChunkBytes int64         `envconfig:"UPLOAD_MAX_CHUNK_BYTES" default:"67108864"`
	QueueSize     int           `envconfig:"UPLOAD_QUEUE_SIZE" default:"64"`
}

type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"chunkdrop"`
	Password        string        `envconfig:"DB_PASSWORD" default:"chunkdrop"`
	Name            string        `envconfig:"DB_NAME" default:"chunkdrop"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"15"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type RateLimitConfig struct {
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"600"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// 鉴权模式
const (
	AuthModeNone   = "none"
	AuthModeAPIKey = "apikey"
	AuthModeJWT    = "jwt"
)

// AuthConfig 鉴权配置。
type AuthConfig struct {
	Mode       string   `envconfig:"AUTH_MODE" default:"none"`
	APIKeys    []string `envconfig:"API_KEYS"`
	JWTSecret  string   `envconfig:"JWT_SECRET"`
	JWTJWKSURL string   `envconfig:"JWT_JWKS_URL"`
}

// 归档驱动
const (
	ArchiveDriverNone = "none"
	ArchiveDriverS3   = "s3"
)

// ArchiveConfig 描述上传完成后的对象存储归档。
type ArchiveConfig struct {
	Driver      string `envconfig:"ARCHIVE_DRIVER" default:"none"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:"localhost:9000"` // 不含协议
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"chunkdrop"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

// NATSConfig 为空 URL 时不发布生命周期事件。
type NATSConfig struct {
	URL     string `envconfig:"NATS_URL"`
	Stream  string `envconfig:"NATS_STREAM" default:"UPLOADS"`
	Subject string `envconfig:"NATS_SUBJECT" default:"uploads.events"`
}

// Load 从环境变量加载配置（存在 .env 时先载入），并校验取值。
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	cfg.Archive.Driver = strings.ToLower(strings.TrimSpace(cfg.Archive.Driver))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.Upload.StorageDir); err != nil {
		return nil, fmt.Errorf("确保存储目录失败: %w", err)
	}

	cfg.CORSAllowedOrigins = trimList(cfg.CORSAllowedOrigins)
	cfg.Auth.APIKeys = trimList(cfg.Auth.APIKeys)

	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Upload.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_IDLE_TIMEOUT must be positive"))
	}
	if c.Upload.MaxChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_CHUNK_BYTES must be positive"))
	}
	if c.Upload.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_QUEUE_SIZE must be positive"))
	}

	switch strings.ToLower(c.Auth.Mode) {
	case AuthModeNone:
	case AuthModeAPIKey:
		if len(trimList(c.Auth.APIKeys)) == 0 {
			errs = append(errs, fmt.Errorf("API_KEYS is required when AUTH_MODE=apikey"))
		}
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" && c.Auth.JWTJWKSURL == "" {
			errs = append(errs, fmt.Errorf("JWT_SECRET or JWT_JWKS_URL is required when AUTH_MODE=jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode))
	}

	switch strings.ToLower(c.Archive.Driver) {
	case ArchiveDriverNone, ArchiveDriverS3:
	default:
		errs = append(errs, fmt.Errorf("unknown ARCHIVE_DRIVER %q", c.Archive.Driver))
	}

	return errors.Join(errs...)
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	d := c.Database
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
