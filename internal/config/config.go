package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Env         string
	DatabaseDSN string
	JWTSecret   string
	JWTExpiry   time.Duration

	// CapsuleQuota caps the total number of sealed capsules; 0 disables it.
	CapsuleQuota int64
	// GeofenceToleranceM is the base unlock tolerance in meters; each
	// fix's reported accuracy is added on top.
	GeofenceToleranceM float64

	S3Bucket   string
	S3Region   string
	S3Endpoint string
}

func Load() Config {
	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseDSN:        getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/timeseal?parseTime=true"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTExpiry:          24 * time.Hour,
		CapsuleQuota:       getEnvInt64("CAPSULE_QUOTA", 1000),
		GeofenceToleranceM: getEnvFloat("GEOFENCE_TOLERANCE_M", 100),
		S3Bucket:           getEnv("S3_BUCKET", "timeseal-attachments"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
	}

	if cfg.Env == "production" && cfg.JWTSecret == "dev-secret-change-in-production" {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using fallback", "key", key, "value", v)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("invalid number in environment, using fallback", "key", key, "value", v)
	}
	return fallback
}
