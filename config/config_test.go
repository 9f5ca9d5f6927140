package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  order_updated_topic_name: "order.updated"
redis:
  host: "localhost"
  port: 6379
scraper:
  base_url: "http://localhost:9100"
attendbox:
  http_addr: ":8080"
  kafka_consumer_group: "attend-api"
  current_view_ttl_seconds: 600
  download_lock_ttl_seconds: 120
  encryption_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "order.updated", cfg.Kafka.OrderUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "http://localhost:9100", cfg.Scraper.BaseURL)
	require.Equal(t, ":8080", cfg.AttendBox.HTTPAddr)
	require.Equal(t, 120, cfg.AttendBox.DownloadLockTTLSeconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
