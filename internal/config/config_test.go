package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "api:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.API.Address())
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.TTL.ProcessingTTL())
	assert.Equal(t, 5*time.Minute, cfg.TTL.DedupeTTL())
	assert.Equal(t, 10*time.Minute, cfg.TTL.CallStateTTL())
	assert.Equal(t, "disposition_code", cfg.Classifier.ErrorInfoPrecedence)
	assert.True(t, cfg.Classifier.DedupeFailOpen)
	assert.True(t, cfg.Classifier.EarlyAck)
	assert.Equal(t, "TEST", cfg.Upstream.Env)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/callrelay.yaml")
	require.Error(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	_, err := Load(writeConfig(t, "api: [broken"))
	require.Error(t, err)
}

func TestEnvironmentSelection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
upstream:
  env: prod
  test_base_url: https://test.example.com
  test_api_key: test-key
  prod_base_url: https://prod.example.com
  prod_api_key: prod-key
`))
	require.NoError(t, err)

	assert.Equal(t, "PROD", cfg.Upstream.Env)
	assert.Equal(t, "https://prod.example.com", cfg.Upstream.BaseURL())
	assert.Equal(t, "prod-key", cfg.Upstream.APIKey())
}

func TestNormalizeEnvCollapsesToTestOrProd(t *testing.T) {
	assert.Equal(t, "PROD", NormalizeEnv(" prod "))
	assert.Equal(t, "TEST", NormalizeEnv("test"))
	assert.Equal(t, "TEST", NormalizeEnv("staging"))
	assert.Equal(t, "TEST", NormalizeEnv(""))
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("CALLRELAY_REDIS_ADDR", "10.0.0.9:6379")
	t.Setenv("CALLRELAY_API_KEY_TEST", "env-key")
	t.Setenv("CALLRELAY_JWT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, `
redis:
  addr: file-redis:6379
upstream:
  test_api_key: file-key
`))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.9:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey())
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestDSNIncludesParseTime(t *testing.T) {
	d := DatabaseConfig{
		Host: "db.local", Port: 3306,
		Username: "relay", Password: "pw", Database: "callrelay",
	}
	assert.Equal(t, "relay:pw@tcp(db.local:3306)/callrelay?parseTime=true&charset=utf8mb4", d.DSN())
}
