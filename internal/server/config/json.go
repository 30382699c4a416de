package config

import (
	"encoding/json"
	"os"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/flagx"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Intervals use
// timex.Duration ("30s" or integer nanoseconds) and the fine rate is a
// decimal so "0.25" and 0.25 are both accepted. Absent fields keep the
// value already present in Config.
type JsonConfig struct {
	EndpointAddrHTTP    *string          `json:"endpoint_addr_http"`
	EndpointAddrGRPC    *string          `json:"endpoint_addr_grpc"`
	DatabaseDSN         *string          `json:"database_dsn"`
	MaxOpenConns        *int             `json:"max_open_conns"`
	ReconcileInterval   *timex.Duration  `json:"reconcile_interval"`
	HealthCheckInterval *timex.Duration  `json:"health_check_interval"`
	LoanPeriodDays      *int             `json:"loan_period_days"`
	DailyFineRate       *decimal.Decimal `json:"daily_fine_rate"`
	MaxActiveLoans      *int             `json:"max_active_loans"`
	MaxCheckInBatch     *int             `json:"max_checkin_batch"`
	TxRetryAttempts     *int             `json:"tx_retry_attempts"`
	LogLevel            *string          `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Without the flag nothing is loaded. An unreadable file or invalid JSON
// panics; the caller is still expected to apply command-line flags after.
func parseJson(config *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setIf(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setIf(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.MaxOpenConns, c.MaxOpenConns)
	setIf(&config.LoanPeriodDays, c.LoanPeriodDays)
	setIf(&config.DailyFineRate, c.DailyFineRate)
	setIf(&config.MaxActiveLoans, c.MaxActiveLoans)
	setIf(&config.MaxCheckInBatch, c.MaxCheckInBatch)
	setIf(&config.TxRetryAttempts, c.TxRetryAttempts)
	setIf(&config.LogLevel, c.LogLevel)

	if c.ReconcileInterval != nil {
		config.ReconcileInterval = c.ReconcileInterval.Duration
	}
	if c.HealthCheckInterval != nil {
		config.HealthCheckInterval = c.HealthCheckInterval.Duration
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
