package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	EnvFile  string `env:"ENV_FILE" envDefault:".env"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"mediagen"`
	DBPath     string `env:"DBPath" envDefault:"datas/mediagen.db"`
	DBPort     string `env:"DBPort" envDefault:"3306"`

	StorageType          string `env:"STORAGE_TYPE" envDefault:"local"`
	StorageLocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"datas/media"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/files"`

	// S3 兼容存储配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`

	// 阿里云 OSS 存储配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 存储配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Cloudflare R2 存储配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Endpoint        string `env:"STORAGE_R2_ENDPOINT"`
	StorageR2Region          string `env:"STORAGE_R2_REGION" envDefault:"auto"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`

	// 供应商
	FalAPIKey         string `env:"FAL_KEY" envDefault:""`
	FalQueueBaseURL   string `env:"FAL_QUEUE_BASE_URL" envDefault:"https://queue.fal.run"`
	KieAPIKey         string `env:"KIE_API_KEY" envDefault:""`
	KieBaseURL        string `env:"KIE_BASE_URL" envDefault:"https://api.kie.ai"`
	VolcengineAPIKey  string `env:"VOLCENGINE_API_KEY" envDefault:""`
	SeedreamModel     string `env:"SEEDREAM_MODEL" envDefault:"doubao-seedream-4-0-250828"`
	VendorTimeoutSecs int    `env:"VENDOR_TIMEOUT_SECONDS" envDefault:"60"`

	// 供应商回调地址前缀，为空时状态接口会主动向供应商查询
	WebhookBaseURL string `env:"WEBHOOK_BASE_URL" envDefault:""`

	// 积分
	NewUserCredits          int64 `env:"NEW_USER_CREDITS" envDefault:"50"`
	NewUserCreditsValidDays int   `env:"NEW_USER_CREDITS_VALID_DAYS" envDefault:"30"`

	// 支付回调
	PayNotifySecret string `env:"PAY_NOTIFY_SECRET" envDefault:""`

	// 后台任务池
	WorkerPoolSize  int `env:"WORKER_POOL_SIZE" envDefault:"8"`
	WorkerQueueSize int `env:"WORKER_QUEUE_SIZE" envDefault:"256"`

	RegistrationEnabled bool   `env:"REGISTRATION_ENABLED" envDefault:"true"`
	AdminEmail          string `env:"ADMIN_EMAIL" envDefault:""`
	AdminPassword       string `env:"ADMIN_PASSWORD" envDefault:""`

	JWTSecret            string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"mediagen"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"1440"`
}

// ParseConfig 先加载 .env（如果存在），再解析环境变量
func ParseConfig() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).WithField("file", envFile).Warn("failed to load env file")
	}

	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	logrus.WithFields(logrus.Fields{
		"db_type":      Conf.DBType,
		"storage_type": Conf.StorageType,
		"webhooks":     Conf.WebhookBaseURL != "",
	}).Debug("config_loaded")
	return Conf, nil
}

// LogrusLevel 解析日志级别，非法值回退到 info
func (c Config) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
