package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	Debug   bool
	Port    string

	// Logging
	LogLevel string
	LogJSON  bool

	// Database
	DatabaseURL string

	// Node agent authentication
	RegistrationToken string // one-time bootstrap token presented on first registration
	NodeSecretKey     string // HMAC key for signed per-node secrets
	AdminToken        string // bearer token for the admin surface

	// Node fabric
	HeartbeatInterval      time.Duration // agent-side send interval
	HeartbeatSoftThreshold time.Duration // active -> unhealthy
	HeartbeatHardThreshold time.Duration // unhealthy -> recovering (starts recovery)
	HealthCheckInterval    time.Duration // coordinator sweep tick
	CommandTimeout         time.Duration // per-command deadline on the node channel

	// Placement & recovery
	DefaultEstimateMB    int // conservative per-tenant memory estimate when unknown
	RecoveryRetryBackoff time.Duration

	// Billing
	SuspensionGraceDays  int           // suspended -> destroyed after this many days
	DestroySweepInterval time.Duration
	BulkUndoWindow       time.Duration // undo window for bulk credit grants
	BulkMaxTenants       int           // cap per bulk operation
	AutoTopupMaxFailures int           // consecutive failures before auto-topup is disabled
	BudgetCacheTTL       time.Duration // rolling-spend cache TTL

	// Object storage (storage box over SFTP)
	StorageBoxEnabled  bool
	StorageBoxHost     string
	StorageBoxPort     int
	StorageBoxUser     string
	StorageBoxPassword string
	StorageBoxBasePath string

	// Archive encryption
	ArchiveSecret string // high-entropy secret; empty disables encryption

	// Snapshots
	SnapshotBasePath       string
	SnapshotRetentionDays  int
	SnapshotHardDeleteDays int // days after soft delete before the blob is removed
	NightlyBackupSchedule  string
	RetentionSweepSchedule string

	// InfluxDB (raw metering sink)
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	// Agent
	AgentNodeID       string
	AgentCoordinator  string // ws(s)://host:port of the coordinator
	AgentDataPath     string
	AgentDockerSocket string
	AgentCapacityMB   int
	AgentSecretPath   string // where the persistent per-node secret is kept
}

var AppConfig *Config

// Load loads configuration from environment
func Load() *Config {
	// Load .env file if exists
	_ = godotenv.Load()

	config := &Config{
		AppName:  getEnv("APP_NAME", "BotGrid"),
		Debug:    getEnvBool("DEBUG", false),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RegistrationToken: getEnv("REGISTRATION_TOKEN", ""),
		NodeSecretKey:     getEnv("NODE_SECRET_KEY", "change-me-in-production-please-use-a-random-string"),
		AdminToken:        getEnv("ADMIN_TOKEN", ""),

		HeartbeatInterval:      getEnvDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		HeartbeatSoftThreshold: getEnvDuration("HEARTBEAT_SOFT_THRESHOLD", 30*time.Second),
		HeartbeatHardThreshold: getEnvDuration("HEARTBEAT_HARD_THRESHOLD", 90*time.Second),
		HealthCheckInterval:    getEnvDuration("HEALTH_CHECK_INTERVAL", 5*time.Second),
		CommandTimeout:         getEnvDuration("COMMAND_TIMEOUT", 120*time.Second),

		DefaultEstimateMB:    getEnvInt("DEFAULT_ESTIMATE_MB", 100),
		RecoveryRetryBackoff: getEnvDuration("RECOVERY_RETRY_BACKOFF", 30*time.Second),

		SuspensionGraceDays:  getEnvInt("SUSPENSION_GRACE_DAYS", 30),
		DestroySweepInterval: getEnvDuration("DESTROY_SWEEP_INTERVAL", time.Hour),
		BulkUndoWindow:       getEnvDuration("BULK_UNDO_WINDOW", 5*time.Minute),
		BulkMaxTenants:       getEnvInt("BULK_MAX_TENANTS", 500),
		AutoTopupMaxFailures: getEnvInt("AUTO_TOPUP_MAX_FAILURES", 3),
		BudgetCacheTTL:       getEnvDuration("BUDGET_CACHE_TTL", time.Second),

		StorageBoxEnabled:  getEnvBool("STORAGE_BOX_ENABLED", false),
		StorageBoxHost:     getEnv("STORAGE_BOX_HOST", ""),
		StorageBoxPort:     getEnvInt("STORAGE_BOX_PORT", 23),
		StorageBoxUser:     getEnv("STORAGE_BOX_USER", ""),
		StorageBoxPassword: getEnv("STORAGE_BOX_PASSWORD", ""),
		StorageBoxBasePath: getEnv("STORAGE_BOX_BASE_PATH", "/backups"),

		ArchiveSecret: getEnv("ARCHIVE_SECRET", ""),

		SnapshotBasePath:       getEnv("SNAPSHOT_BASE_PATH", "./snapshots"),
		SnapshotRetentionDays:  getEnvInt("SNAPSHOT_RETENTION_DAYS", 7),
		SnapshotHardDeleteDays: getEnvInt("SNAPSHOT_HARD_DELETE_DAYS", 3),
		NightlyBackupSchedule:  getEnv("NIGHTLY_BACKUP_SCHEDULE", "0 3 * * *"),
		RetentionSweepSchedule: getEnv("RETENTION_SWEEP_SCHEDULE", "30 4 * * *"),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "botgrid"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "metering"),

		AgentNodeID:       getEnv("AGENT_NODE_ID", ""),
		AgentCoordinator:  getEnv("AGENT_COORDINATOR_URL", "ws://localhost:8080"),
		AgentDataPath:     getEnv("AGENT_DATA_PATH", "./bots"),
		AgentDockerSocket: getEnv("AGENT_DOCKER_SOCKET", "/var/run/docker.sock"),
		AgentCapacityMB:   getEnvInt("AGENT_CAPACITY_MB", 8192),
		AgentSecretPath:   getEnv("AGENT_SECRET_PATH", "./node-secret"),
	}

	AppConfig = config
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Invalid boolean for %s, using default: %v", key, defaultValue)
			return defaultValue
		}
		return boolVal
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
			return defaultValue
		}
		return intVal
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("Invalid duration for %s, using default: %s", key, defaultValue)
			return defaultValue
		}
		return d
	}
	return defaultValue
}
