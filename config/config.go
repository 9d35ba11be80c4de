package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Couriers    CouriersConfig    `yaml:"couriers"`
	CourierDesk CourierDeskConfig `yaml:"courierdesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	SyncCompletedTopicName     string `yaml:"sync_completed_topic_name"`
	StorefrontUpdatedTopicName string `yaml:"storefront_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CouriersConfig carries per-courier base URLs. Empty values fall back
// to the production endpoints compiled into the adapters.
type CouriersConfig struct {
	PostexBaseURL string `yaml:"postex_base_url"`
	TraxBaseURL   string `yaml:"trax_base_url"`
	MnpBaseURL    string `yaml:"mnp_base_url"`

	StorefrontBaseURL string `yaml:"storefront_base_url"`
}

type CourierDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	AlertCacheTTLSeconds   int `yaml:"alert_cache_ttl_seconds"`
	SyncChunkSize          int `yaml:"sync_chunk_size"`
	SyncRateLimitPerMinute int `yaml:"sync_rate_limit_per_minute"`

	AlertTransitDays     int     `yaml:"alert_transit_days"`
	AlertReturnRatePct   float64 `yaml:"alert_return_rate_pct"`
	AlertDeliveryRatePct float64 `yaml:"alert_delivery_rate_pct"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
