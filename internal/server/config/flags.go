package config

import (
	"flag"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-o int      max open DB connections
//	-i int      reconcile interval, minutes (0 disables)
//	-h int      health check interval, seconds
//	-p int      loan period, days
//	-f string   daily fine rate (e.g., "0.25")
//	-m int      max active loans per borrower
//	-b int      max loan ids per check-in call
//	-r int      transaction attempts on serialization conflicts
//	-l string   log level
//
// Notes:
//   - os.Args is filtered with flagx.FilterArgs first, so flags owned by
//     other components (such as -c) never reach this flag set.
//   - -i, -h and -f only replace the current value when given, so finer
//     JSON durations survive.
//   - An invalid value panics, the same way a broken JSON file does.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-o", "-i", "-h", "-p", "-f", "-m", "-b", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port to run server")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.MaxOpenConns, "o", config.MaxOpenConns, "max open database connections")

	reconcileInterval := fs.Int("i", int(config.ReconcileInterval.Minutes()), "reconcile interval (in minutes, 0 disables)")
	healthInterval := fs.Int("h", int(config.HealthCheckInterval.Seconds()), "health check interval (in seconds)")

	fs.IntVar(&config.LoanPeriodDays, "p", config.LoanPeriodDays, "loan period (in days)")
	rate := fs.String("f", config.DailyFineRate.String(), "daily fine rate")
	fs.IntVar(&config.MaxActiveLoans, "m", config.MaxActiveLoans, "max active loans per borrower")
	fs.IntVar(&config.MaxCheckInBatch, "b", config.MaxCheckInBatch, "max loans per check-in call")
	fs.IntVar(&config.TxRetryAttempts, "r", config.TxRetryAttempts, "transaction attempts on conflict")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["f"] {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			panic(err)
		}
		config.DailyFineRate = d
	}
	if set["i"] {
		config.ReconcileInterval = time.Duration(*reconcileInterval) * time.Minute
	}
	if set["h"] {
		config.HealthCheckInterval = time.Duration(*healthInterval) * time.Second
	}
}
