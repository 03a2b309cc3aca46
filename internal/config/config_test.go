package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelpoc/tscache/internal/tsschema"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			Database:          "tscache",
			MaxConnections:    10,
			ConnectionTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			DownsamplingFilter: tsschema.FilterTimeWeightedPoints,
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := validConfig()
	c.Server.Port = 70000
	assert.Error(t, c.Validate())
}

func TestValidateRejectsEmptyDatabaseHost(t *testing.T) {
	c := validConfig()
	c.Database.Host = ""
	assert.Error(t, c.Validate())
}

func TestValidateRejectsInvalidFilter(t *testing.T) {
	c := validConfig()
	c.Cache.DownsamplingFilter = tsschema.FilterType("NONSENSE")
	assert.Error(t, c.Validate())
}

func TestValidateAggregatesMultipleErrors(t *testing.T) {
	c := validConfig()
	c.Server.Port = -1
	c.Database.Host = ""
	c.Cache.WidenSeconds = -5
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server port")
	assert.Contains(t, err.Error(), "database host")
	assert.Contains(t, err.Error(), "widen window")
}

func TestDatabaseConfigDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Database: "tscache", Username: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/tscache", d.DSN())
}

func TestFilterOrDefault(t *testing.T) {
	assert.Equal(t, tsschema.FilterPoints, filterOrDefault("POINTS"))
	assert.Equal(t, tsschema.FilterTimeWeightedPoints, filterOrDefault("BOGUS"))
}

func TestIntOrDefault(t *testing.T) {
	assert.Equal(t, 5, intOrDefault("5", 1))
	assert.Equal(t, 1, intOrDefault("", 1))
	assert.Equal(t, 1, intOrDefault("nope", 1))
}

func TestDurationOrDefault(t *testing.T) {
	assert.Equal(t, 2*time.Second, durationOrDefault("2s", time.Second))
	assert.Equal(t, time.Second, durationOrDefault("", time.Second))
	assert.Equal(t, time.Second, durationOrDefault("bogus", time.Second))
}
