package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER"`
	Database   DatabaseConfig   `mapstructure:"DATABASE"`
	Federation FederationConfig `mapstructure:"FEDERATION"`
	AWS        AWSConfig        `mapstructure:"AWS"`
	IPFS       IPFSConfig       `mapstructure:"IPFS"`
	Notary     NotaryConfig     `mapstructure:"NOTARY"`
}

type ServerConfig struct {
	Host     string `mapstructure:"HOST"`
	Port     string `mapstructure:"PORT"`
	Endpoint string `mapstructure:"ENDPOINT"`
}

type DatabaseConfig struct {
	Username     string `mapstructure:"USERNAME"`
	Password     string `mapstructure:"PASSWORD"`
	Host         string `mapstructure:"HOST"`
	Port         string `mapstructure:"PORT"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`
}

// FederationConfig selects the aggregation method and the privacy and
// retention knobs for every round.
type FederationConfig struct {
	AggregationMethod   string  `mapstructure:"AGGREGATION_METHOD"`
	SecureAggregation   bool    `mapstructure:"SECURE_AGGREGATION"`
	DifferentialPrivacy bool    `mapstructure:"DIFFERENTIAL_PRIVACY"`
	Epsilon             float64 `mapstructure:"EPSILON"`
	Delta               float64 `mapstructure:"DELTA"`
	ClipNorm            float64 `mapstructure:"CLIP_NORM"`
	OutlierThreshold    float64 `mapstructure:"OUTLIER_THRESHOLD"`
	KeepLastVersions    int     `mapstructure:"KEEP_LAST_VERSIONS"`
	CheckpointDir       string  `mapstructure:"CHECKPOINT_DIR"`
	CheckpointBackend   string  `mapstructure:"CHECKPOINT_BACKEND"`
	CleanupInterval     int     `mapstructure:"CLEANUP_INTERVAL"`
}

type AWSConfig struct {
	Region          string `mapstructure:"REGION"`
	BucketName      string `mapstructure:"BUCKET_NAME"`
	AccessKeyID     string `mapstructure:"ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"SECRET_ACCESS_KEY"`
}

type IPFSConfig struct {
	Endpoint   string `mapstructure:"ENDPOINT"`
	GatewayURL string `mapstructure:"GATEWAY_URL"`
}

type NotaryConfig struct {
	WebhookURL string `mapstructure:"WEBHOOK_URL"`
}

type ConfigManager struct {
	config     *Config
	configPath string
	mutex      sync.RWMutex
}

var (
	instance *ConfigManager
	once     sync.Once
)

func (dc *DatabaseConfig) GetConnectionURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dc.Username,
		dc.Password,
		dc.Host,
		dc.Port,
		dc.DatabaseName,
	)
}

func GetConfigManager() *ConfigManager {
	once.Do(func() {
		instance = &ConfigManager{
			configPath: ".env",
		}
	})
	return instance
}

func (cm *ConfigManager) SetConfigPath(path string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.configPath = path
	cm.config = nil
}

func (cm *ConfigManager) GetConfig() (*Config, error) {
	cm.mutex.RLock()
	if cm.config != nil {
		defer cm.mutex.RUnlock()
		return cm.config, nil
	}
	cm.mutex.RUnlock()

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.config != nil {
		return cm.config, nil
	}

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func (cm *ConfigManager) ReloadConfig() (*Config, error) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	var err error
	cm.config, err = loadConfigFile(cm.configPath)
	return cm.config, err
}

func loadConfigFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	v.SetDefault("SERVER", map[string]interface{}{
		"HOST":     v.GetString("SERVER_HOST"),
		"PORT":     v.GetString("SERVER_PORT"),
		"ENDPOINT": v.GetString("SERVER_ENDPOINT"),
	})

	v.SetDefault("DATABASE", map[string]interface{}{
		"USERNAME":      v.GetString("DATABASE_USERNAME"),
		"PASSWORD":      v.GetString("DATABASE_PASSWORD"),
		"HOST":          v.GetString("DATABASE_HOST"),
		"PORT":          v.GetString("DATABASE_PORT"),
		"DATABASE_NAME": v.GetString("DATABASE_DATABASE_NAME"),
	})

	v.SetDefault("FEDERATION", map[string]interface{}{
		"AGGREGATION_METHOD":   v.GetString("FEDERATION_AGGREGATION_METHOD"),
		"SECURE_AGGREGATION":   v.GetBool("FEDERATION_SECURE_AGGREGATION"),
		"DIFFERENTIAL_PRIVACY": v.GetBool("FEDERATION_DIFFERENTIAL_PRIVACY"),
		"EPSILON":              v.GetFloat64("FEDERATION_EPSILON"),
		"DELTA":                v.GetFloat64("FEDERATION_DELTA"),
		"CLIP_NORM":            v.GetFloat64("FEDERATION_CLIP_NORM"),
		"OUTLIER_THRESHOLD":    v.GetFloat64("FEDERATION_OUTLIER_THRESHOLD"),
		"KEEP_LAST_VERSIONS":   v.GetInt("FEDERATION_KEEP_LAST_VERSIONS"),
		"CHECKPOINT_DIR":       v.GetString("FEDERATION_CHECKPOINT_DIR"),
		"CHECKPOINT_BACKEND":   v.GetString("FEDERATION_CHECKPOINT_BACKEND"),
		"CLEANUP_INTERVAL":     v.GetInt("FEDERATION_CLEANUP_INTERVAL"),
	})

	v.SetDefault("AWS", map[string]interface{}{
		"REGION":            v.GetString("AWS_REGION"),
		"BUCKET_NAME":       v.GetString("AWS_BUCKET_NAME"),
		"ACCESS_KEY_ID":     v.GetString("AWS_ACCESS_KEY_ID"),
		"SECRET_ACCESS_KEY": v.GetString("AWS_SECRET_ACCESS_KEY"),
	})

	v.SetDefault("IPFS", map[string]interface{}{
		"ENDPOINT":    v.GetString("IPFS_ENDPOINT"),
		"GATEWAY_URL": v.GetString("IPFS_GATEWAY_URL"),
	})

	v.SetDefault("NOTARY", map[string]interface{}{
		"WEBHOOK_URL": v.GetString("NOTARY_WEBHOOK_URL"),
	})

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	applyFederationDefaults(&config.Federation)

	if config.Database.Username == "" || config.Database.Password == "" ||
		config.Database.Host == "" || config.Database.Port == "" ||
		config.Database.DatabaseName == "" {
		return nil, fmt.Errorf("missing required database configuration")
	}

	return &config, nil
}

func applyFederationDefaults(fc *FederationConfig) {
	if fc.AggregationMethod == "" {
		fc.AggregationMethod = "federated_average"
	}
	if fc.Epsilon == 0 {
		fc.Epsilon = 1.0
	}
	if fc.Delta == 0 {
		fc.Delta = 1e-5
	}
	if fc.ClipNorm == 0 {
		fc.ClipNorm = 1.0
	}
	if fc.OutlierThreshold == 0 {
		fc.OutlierThreshold = 0.3
	}
	if fc.KeepLastVersions == 0 {
		fc.KeepLastVersions = 10
	}
	if fc.CheckpointDir == "" {
		fc.CheckpointDir = "storage/models/checkpoints"
	}
	if fc.CleanupInterval == 0 {
		fc.CleanupInterval = 60
	}
}

func (cm *ConfigManager) GetConfigPath() string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.configPath
}
