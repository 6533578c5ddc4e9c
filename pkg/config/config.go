package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "lectureweaver"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LECTUREWEAVER_DB_DSN"
	EnvDBHost = "LECTUREWEAVER_DB_HOST"
	EnvDBUser = "LECTUREWEAVER_DB_USER"
	EnvDBName = "LECTUREWEAVER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	VideoStore   VideoStoreConfig
	Upload       UploadConfig
	Generation   GenerationConfig
	Archive      ArchiveConfig
	GCP          GCPConfig
	Blob         BlobConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LECTUREWEAVER_APP_ENV" required:"true"`
	Port         string `envconfig:"LECTUREWEAVER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LECTUREWEAVER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LECTUREWEAVER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LECTUREWEAVER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LECTUREWEAVER_DB_DSN"`
	Driver string `envconfig:"LECTUREWEAVER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LECTUREWEAVER_DB_HOST"`
	LegacyPort     int    `envconfig:"LECTUREWEAVER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LECTUREWEAVER_DB_USER"`
	LegacyPassword string `envconfig:"LECTUREWEAVER_DB_PASSWORD"`
	LegacyName     string `envconfig:"LECTUREWEAVER_DB_NAME"`
	LegacySSLMode  string `envconfig:"LECTUREWEAVER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LECTUREWEAVER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LECTUREWEAVER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LECTUREWEAVER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LECTUREWEAVER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LECTUREWEAVER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LECTUREWEAVER_REDIS_ADDR"`
	Password     string        `envconfig:"LECTUREWEAVER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LECTUREWEAVER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LECTUREWEAVER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LECTUREWEAVER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LECTUREWEAVER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LECTUREWEAVER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LECTUREWEAVER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LECTUREWEAVER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LECTUREWEAVER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LECTUREWEAVER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LECTUREWEAVER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LECTUREWEAVER_AUTO_MIGRATE" default:"false"`
}

// VideoStoreConfig drives the local binary video store.
type VideoStoreConfig struct {
	Path string `envconfig:"LECTUREWEAVER_VIDEOSTORE_PATH" default:"data/videos.db"`

	// LegacyKey is the well-known key holding the pre-store base64 blob.
	LegacyKey string `envconfig:"LECTUREWEAVER_VIDEOSTORE_LEGACY_KEY" default:"saved_video_data_new"`
}

type UploadConfig struct {
	MaxUploadMB       int      `envconfig:"LECTUREWEAVER_MAX_UPLOAD_MB" default:"200"`
	AllowedExtensions []string `envconfig:"LECTUREWEAVER_UPLOAD_ALLOWED_EXTENSIONS" default:".pdf,.ppt,.pptx"`
}

// MaxUploadBytes converts the configured megabyte cap into bytes.
func (u UploadConfig) MaxUploadBytes() int64 {
	return int64(u.MaxUploadMB) * 1024 * 1024
}

type GenerationConfig struct {
	Endpoint string        `envconfig:"LECTUREWEAVER_GENERATION_ENDPOINT" required:"true"`
	Timeout  time.Duration `envconfig:"LECTUREWEAVER_GENERATION_TIMEOUT" default:"60s"`
}

type ArchiveConfig struct {
	Endpoint       string        `envconfig:"LECTUREWEAVER_ARCHIVE_ENDPOINT" required:"true"`
	Host           string        `envconfig:"LECTUREWEAVER_ARCHIVE_HOST"`
	Port           int           `envconfig:"LECTUREWEAVER_ARCHIVE_PORT" default:"22"`
	User           string        `envconfig:"LECTUREWEAVER_ARCHIVE_USER"`
	TargetDir      string        `envconfig:"LECTUREWEAVER_ARCHIVE_TARGET_DIR" default:"/archive/incoming"`
	MaxAttempts    int           `envconfig:"LECTUREWEAVER_ARCHIVE_MAX_ATTEMPTS" default:"3"`
	BaseDelay      time.Duration `envconfig:"LECTUREWEAVER_ARCHIVE_BASE_DELAY" default:"1s"`
	AttemptTimeout time.Duration `envconfig:"LECTUREWEAVER_ARCHIVE_ATTEMPT_TIMEOUT" default:"45s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LECTUREWEAVER_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LECTUREWEAVER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LECTUREWEAVER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type BlobConfig struct {
	BucketName        string        `envconfig:"LECTUREWEAVER_BLOB_BUCKET_NAME" required:"true"`
	UploadChunkBytes  int           `envconfig:"LECTUREWEAVER_BLOB_UPLOAD_CHUNK_BYTES" default:"8388608"`
	DownloadURLExpiry time.Duration `envconfig:"LECTUREWEAVER_BLOB_DOWNLOAD_URL_EXPIRY" default:"1h"`
}

type PubSubConfig struct {
	UploadsTopic        string `envconfig:"LECTUREWEAVER_PUBSUB_UPLOADS_TOPIC" required:"true"`
	UploadsSubscription string `envconfig:"LECTUREWEAVER_PUBSUB_UPLOADS_SUBSCRIPTION" required:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
