package config

import (
	"time"

	"teamspace-backend/internal/database"
	"teamspace-backend/pkg/env"
)

// Config holds all configuration for the messaging service
type Config struct {
	Port        int
	Environment string // development, staging, production

	Cockroach database.CockroachConfig
	Cassandra database.CassandraConfig
	Redis     database.RedisConfig

	JWTSecret string

	MinIO MinIOConfig

	Notifications NotificationConfig
	Push          PushConfig
}

// MinIOConfig holds object storage configuration for attachment uploads
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NotificationConfig bounds the per-user durable notification queue
type NotificationConfig struct {
	Retention  time.Duration // Notifications older than this are pruned before insert
	MaxPerUser int           // FIFO cap per recipient
}

// PushConfig configures best-effort push providers; empty values disable a provider
type PushConfig struct {
	FCMCredentialsPath string
	FCMProjectID       string

	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        env.GetInt("PORT", 8082),
		Environment: env.GetString("ENV", "development"),

		Cockroach: database.CockroachConfig{
			Host:     env.GetString("COCKROACH_HOST", "localhost"),
			Port:     env.GetInt("COCKROACH_PORT", 26257),
			User:     env.GetString("COCKROACH_USER", "root"),
			Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
			Database: env.GetString("COCKROACH_DATABASE", "teamspace_db"),
			SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
			MaxConns: env.GetInt("COCKROACH_MAX_CONNS", 25),
		},
		Cassandra: database.CassandraConfig{
			Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "teamspace_ks"),
			Username: env.GetStringFromFile("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
		},
		Redis: database.RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},

		JWTSecret: env.GetStringFromFile("JWT_SECRET", ""),

		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "attachments"),
		},

		Notifications: NotificationConfig{
			Retention:  env.GetDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			MaxPerUser: env.GetInt("NOTIFICATION_MAX_PER_USER", 200),
		},
		Push: PushConfig{
			FCMCredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			FCMProjectID:       env.GetString("FCM_PROJECT_ID", ""),
			APNsKeyPath:        env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:          env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:         env.GetString("APNS_TEAM_ID", ""),
			APNsBundleID:       env.GetString("APNS_BUNDLE_ID", ""),
			APNsProduction:     env.GetBool("APNS_PRODUCTION", false),
		},
	}
}
