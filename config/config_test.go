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
  sync_completed_topic_name: "orders.sync.completed"
  storefront_updated_topic_name: "storefront.orders.updated"
redis:
  host: "localhost"
  port: 6379
couriers:
  postex_base_url: "https://api.postex.example"
  mnp_base_url: "https://portal.mnp.example"
courierdesk:
  http_addr: ":8080"
  kafka_consumer_group: "courierdesk"
  alert_cache_ttl_seconds: 120
  sync_chunk_size: 50
  alert_return_rate_pct: 12.5
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "orders.sync.completed", cfg.Kafka.SyncCompletedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "https://portal.mnp.example", cfg.Couriers.MnpBaseURL)
	require.Equal(t, ":8080", cfg.CourierDesk.HTTPAddr)
	require.Equal(t, 50, cfg.CourierDesk.SyncChunkSize)
	require.InDelta(t, 12.5, cfg.CourierDesk.AlertReturnRatePct, 0.001)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
