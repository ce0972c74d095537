package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/TempLink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString_Defaults(t *testing.T) {
	got := ConnString(config.PostgresConfig{User: "templink", Database: "audit"})
	assert.Equal(t, "postgres://templink@localhost:5432/audit?application_name=templink&sslmode=disable", got)
}

func TestConnString_EscapesCredentials(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "db.internal",
		Port:     6543,
		User:     "audit user",
		Password: "p@ss/word",
		Database: "links",
		SSLMode:  "require",
	}

	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", poolCfg.ConnConfig.Host)
	assert.Equal(t, uint16(6543), poolCfg.ConnConfig.Port)
	assert.Equal(t, "audit user", poolCfg.ConnConfig.User)
	assert.Equal(t, "p@ss/word", poolCfg.ConnConfig.Password)
	assert.Equal(t, "links", poolCfg.ConnConfig.Database)
	assert.Equal(t, "templink", poolCfg.ConnConfig.RuntimeParams["application_name"])
}

func TestApplyPoolSettings(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(config.PostgresConfig{}))
	require.NoError(t, err)

	err = applyPoolSettings(poolCfg, config.PostgresConfig{
		MaxConns:          8,
		MaxConnLifetime:   "30m",
		MaxConnIdleTime:   "soon",
		HealthCheckPeriod: "-1s",
	})
	assert.ErrorContains(t, err, "max_conn_idle_time")
	assert.ErrorContains(t, err, "health_check_period")
	assert.Equal(t, int32(8), poolCfg.MaxConns)
	assert.Equal(t, "30m0s", poolCfg.MaxConnLifetime.String())
}
