package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite covers layering precedence.
//
// Justification: operators override limiter and detector thresholds through
// env vars; a silent fallback to defaults would change security behaviour.
type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := LoadFile("")
	s.Require().NoError(err)

	s.Equal(100, cfg.RateLimit.MaxRequests)
	s.Equal(time.Minute, cfg.RateLimit.Window)
	s.Equal(300, cfg.RateLimit.IPMaxRequests)
	s.Equal(time.Minute, cfg.RateLimit.IPWindow)
	s.Equal(5*time.Minute, cfg.Threat.BruteForceWindow)
	s.Equal(5, cfg.Threat.BruteForceThreshold)
	s.Equal("memory", cfg.RateLimit.Backend)
}

func (s *ConfigSuite) TestFileThenEnvPrecedence() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "warden.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
ratelimit:
  max_requests: 10
  window: 30s
threat:
  brute_force_threshold: 7
log:
  level: debug
`), 0o600))

	s.T().Setenv("WARDEN_RATELIMIT__MAX_REQUESTS", "3")
	s.T().Setenv("WARDEN_KAFKA__BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadFile(path)
	s.Require().NoError(err)

	s.Equal(3, cfg.RateLimit.MaxRequests, "env wins over file")
	s.Equal(30*time.Second, cfg.RateLimit.Window, "file wins over defaults")
	s.Equal(7, cfg.Threat.BruteForceThreshold)
	s.Equal("debug", cfg.Log.Level)
	s.Equal([]string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func (s *ConfigSuite) TestValidation() {
	s.Run("unknown backend rejected", func() {
		s.T().Setenv("WARDEN_RATELIMIT__BACKEND", "memcached")
		_, err := LoadFile("")
		s.Error(err)
	})

	s.Run("redis backend needs a url", func() {
		s.T().Setenv("WARDEN_RATELIMIT__BACKEND", "redis")
		_, err := LoadFile("")
		s.ErrorContains(err, "requires redis.url")
	})

	s.Run("ip limit must be positive", func() {
		s.T().Setenv("WARDEN_RATELIMIT__IP_MAX_REQUESTS", "0")
		_, err := LoadFile("")
		s.Error(err)
	})

	s.Run("bootstrap admin must be a uuid", func() {
		s.T().Setenv("WARDEN_SERVER__BOOTSTRAP_ADMIN", "root")
		_, err := LoadFile("")
		s.Error(err)
	})
}

func (s *ConfigSuite) TestListValuesAreTrimmedAndDeduped() {
	s.T().Setenv("WARDEN_SERVER__TRUSTED_PROXIES", "10.0.0.0/8, 10.0.0.0/8,,192.168.0.0/16")

	cfg, err := LoadFile("")
	s.Require().NoError(err)

	s.Equal([]string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Server.TrustedProxies)
	s.Equal(":9090", cfg.Server.InternalAddr)
}

func (s *ConfigSuite) TestEnvKey() {
	s.Equal("ratelimit.max_requests", envKey("WARDEN_RATELIMIT__MAX_REQUESTS"))
	s.Equal("server.jwt_signing_key", envKey("WARDEN_SERVER__JWT_SIGNING_KEY"))
	s.Equal("", envKey(ConfigPathEnvVar))
}
