package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: memory
lock:
  ttl: 10s
broker:
  driver: kafka
  kafka_brokers: ["kafka:9092"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 5*time.Second, cfg.Lock.Wait)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Broker.KafkaBrokers)
	assert.Equal(t, "consult.lifecycle", cfg.Events.Topic)
	assert.Equal(t, 100, cfg.Outbox.Batch)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  host: db.internal\n")
	t.Setenv("CONSULT_DATABASE_HOST", "db.override")
	t.Setenv("CONSULT_DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("CONSULT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("CONSULT_LOCK_WAIT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, 7, cfg.Database.MaxOpenConns)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.Lock.Wait)
}

func TestLoad_RejectsUnknownDrivers(t *testing.T) {
	path := writeConfig(t, "broker:\n  driver: rabbit\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.driver")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
