package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevRedis(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6380")
	t.Setenv("AGENT_TIMEOUT_SECONDS", "5")
	t.Setenv("PERSIST_TURNS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Session.StoreBackend)
	assert.Equal(t, "127.0.0.1:6380", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Agent.Timeout)
	assert.Equal(t, "default", cfg.Agent.SessionID)
	assert.Equal(t, 100, cfg.Session.HistoryLimit)
	assert.True(t, cfg.Session.PersistTurns)
	assert.Equal(t, 20, cfg.Session.SubmitsPerMinute)
	assert.Equal(t, 5, cfg.Session.SubmitBurst)
	assert.Empty(t, cfg.Agent.TokenURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080"},
			Agent:   AgentConfig{BaseURL: "http://agent"},
			Session: SessionConfig{StoreBackend: StoreRedis, HistoryLimit: 100},
			Redis:   RedisConfig{Addr: "localhost:6379"},
			App:     AppConfig{AuthMode: AuthDev},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("firebase auth needs credentials", func(t *testing.T) {
		cfg := base()
		cfg.App.AuthMode = AuthFirebase
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.Session.StoreBackend = "mongo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid history limit", func(t *testing.T) {
		cfg := base()
		cfg.Session.HistoryLimit = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative submit rate", func(t *testing.T) {
		cfg := base()
		cfg.Session.SubmitsPerMinute = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("token url needs client credentials", func(t *testing.T) {
		cfg := base()
		cfg.Agent.TokenURL = "http://idp.test/token"
		assert.Error(t, cfg.Validate())

		cfg.Agent.ClientID = "backend"
		cfg.Agent.ClientSecret = "s3cret"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_AgentOAuth2(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("AGENT_TOKEN_URL", "http://idp.test/token")
	t.Setenv("AGENT_CLIENT_ID", "backend")
	t.Setenv("AGENT_CLIENT_SECRET", "s3cret")
	t.Setenv("AGENT_SCOPES", "agent.chat, agent.read")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://idp.test/token", cfg.Agent.TokenURL)
	assert.Equal(t, "backend", cfg.Agent.ClientID)
	assert.Equal(t, []string{"agent.chat", "agent.read"}, cfg.Agent.Scopes)
}

func TestGetEnvAsInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}
