package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Invitation   InvitationConfig
	Assessment   AssessmentConfig
	Verification VerificationConfig
	AWS          AWSConfig
	Email        EmailConfig
	Worker       WorkerConfig
	Bootstrap    BootstrapConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	FrontendURL        string // used to build links in emails
	BackendURL         string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// InvitationConfig controls invitation token lifetimes.
type InvitationConfig struct {
	TTL        time.Duration // absolute invitation validity
	SessionTTL time.Duration // lifetime of the artifact handed out by accept
}

// AssessmentConfig controls recurrence.
type AssessmentConfig struct {
	CooldownMonths int
}

// VerificationConfig controls email verification and password reset windows.
type VerificationConfig struct {
	EmailTTL time.Duration
	ResetTTL time.Duration
}

// AWSConfig holds AWS credentials and the snapshot archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SnapshotBucket  string
}

// EmailConfig for SMTP.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	SweepInterval time.Duration // expired-account sweep; 0 disables
}

// BootstrapConfig seeds the first super admin. Empty email disables seeding.
type BootstrapConfig struct {
	SuperAdminEmail    string
	SuperAdminPassword string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			FrontendURL:        strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
			BackendURL:         strings.TrimSuffix(getEnv("BACKEND_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "pulsecheck"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 3),
		},
		Invitation: InvitationConfig{
			TTL:        time.Duration(getEnvInt("INVITATION_TTL_MINUTES", 60)) * time.Minute,
			SessionTTL: time.Duration(getEnvInt("INVITATION_SESSION_TTL_MINUTES", 60)) * time.Minute,
		},
		Assessment: AssessmentConfig{
			CooldownMonths: getEnvInt("ASSESSMENT_COOLDOWN_MONTHS", 3),
		},
		Verification: VerificationConfig{
			EmailTTL: time.Duration(getEnvInt("EMAIL_VERIFICATION_TTL_MINUTES", 60)) * time.Minute,
			ResetTTL: time.Duration(getEnvInt("PASSWORD_RESET_TTL_MINUTES", 15)) * time.Minute,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SnapshotBucket:  getEnv("AWS_S3_SNAPSHOT_BUCKET", "pulsecheck-assessment-snapshots"),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "PulseCheck"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Worker: WorkerConfig{
			SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 60)) * time.Second,
		},
		Bootstrap: BootstrapConfig{
			SuperAdminEmail:    getEnv("SUPERADMIN_EMAIL", ""),
			SuperAdminPassword: getEnv("SUPERADMIN_PASSWORD", ""),
		},
	}
	if cfg.Assessment.CooldownMonths < 0 {
		return nil, fmt.Errorf("ASSESSMENT_COOLDOWN_MONTHS must be >= 0, got %d", cfg.Assessment.CooldownMonths)
	}
	if cfg.Bootstrap.SuperAdminEmail != "" && len(cfg.Bootstrap.SuperAdminPassword) < 8 {
		return nil, fmt.Errorf("SUPERADMIN_PASSWORD must be at least 8 characters when SUPERADMIN_EMAIL is set")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
