package ctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/services"
)

// DSNEnv overrides the default connection string when --dsn is not given.
const DSNEnv = "CIRCULATION_DSN"

type options struct {
	dsn            string
	loanPeriodDays int
	dailyFineRate  string
	maxActiveLoans int
	logLevel       string
}

type cli struct {
	opts   options
	open   Opener
	stderr io.Writer
}

// NewRootCommand assembles circulationctl. open is called once per command
// invocation.
func NewRootCommand(open Opener) *cobra.Command {
	defaults := &config.Config{}
	defaults.LoadDefaults()

	dsn := defaults.DatabaseDSN
	if v := os.Getenv(DSNEnv); v != "" {
		dsn = v
	}

	c := &cli{open: open}

	root := &cobra.Command{
		Use:           "circulationctl",
		Short:         "Operate the library circulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.stderr = cmd.ErrOrStderr()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.opts.dsn, "dsn", dsn, "PostgreSQL connection string (env "+DSNEnv+")")
	pf.IntVar(&c.opts.loanPeriodDays, "loan-period-days", defaults.LoanPeriodDays, "loan length in days")
	pf.StringVar(&c.opts.dailyFineRate, "daily-fine-rate", defaults.DailyFineRate.StringFixed(2), "fine per overdue day")
	pf.IntVar(&c.opts.maxActiveLoans, "max-active-loans", defaults.MaxActiveLoans, "open loans allowed per borrower")
	pf.StringVar(&c.opts.logLevel, "log-level", "warn", "minimum log level written to stderr")

	root.AddCommand(
		c.migrateCmd(),
		c.checkoutCmd(),
		c.checkinCmd(),
		c.searchCmd(),
		c.loansCmd(),
		c.reconcileCmd(),
		c.finesCmd(),
		c.payCmd(),
		c.totalCmd(),
	)
	return root
}

// config turns the persistent flags into a server config.
func (c *cli) config() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = c.opts.dsn
	cfg.LoanPeriodDays = c.opts.loanPeriodDays
	cfg.MaxActiveLoans = c.opts.maxActiveLoans
	cfg.LogLevel = c.opts.logLevel

	rate, err := decimal.NewFromString(c.opts.dailyFineRate)
	if err != nil {
		return nil, fmt.Errorf("invalid --daily-fine-rate %q: %w", c.opts.dailyFineRate, err)
	}
	cfg.DailyFineRate = rate

	if err := services.PolicyFromConfig(cfg).Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run opens a backend, hands it to fn and closes it afterwards.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, b Backend, out io.Writer) error) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	stderr := c.stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := logging.New(stderr, cfg.LogLevel)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := c.open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b, cmd.OutOrStdout())
}
