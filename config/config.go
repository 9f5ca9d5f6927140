package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	AttendBox AttendBoxConfig `yaml:"attendbox"`
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
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	OrderUpdatedTopicName string `yaml:"order_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScraperConfig struct {
	// Пустой base_url включает локальный fake-скрейпер.
	BaseURL string `yaml:"base_url"`
}

type AttendBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentViewTTLSeconds  int `yaml:"current_view_ttl_seconds"`
	DownloadLockTTLSeconds int `yaml:"download_lock_ttl_seconds"`

	// 64 hex chars (32 bytes), AES-256-GCM key for stored scraper passwords.
	EncryptionKey string `yaml:"encryption_key"`
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
