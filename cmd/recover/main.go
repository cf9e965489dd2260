package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"rampbridge/internal/application"
	"rampbridge/internal/config"
	"rampbridge/internal/domain"
	"rampbridge/internal/infrastructure/clickhouse"
	"rampbridge/internal/infrastructure/mysql"
	"rampbridge/internal/infrastructure/processor"
	"rampbridge/internal/infrastructure/rates"

	"github.com/shopspring/decimal"
)

// rampbridge-recover is the operator tool for stranded transactions: list
// what is stuck, re-drive a payout, declare a record dead with a reason, or
// pull the raw audited chain events behind a disputed ref.
func main() {
	var (
		scan   = flag.Bool("scan", false, "list non-terminal transactions older than the stuck threshold")
		resume = flag.String("resume", "", "transaction id to re-drive through the payout orchestrator")
		fail   = flag.String("fail", "", "transaction id to move to its terminal failure state")
		reason = flag.String("reason", "", "operator reason, required with -fail")
		events = flag.String("events", "", "tx ref to list audited chain events for")
	)
	flag.Parse()

	if !*scan && *resume == "" && *fail == "" && *events == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fatalf("config error: %v", err)
	}

	if *events != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		runEvents(ctx, cfg, *events)
		return
	}

	repo, err := mysql.NewRepository(cfg.DBDSN)
	if err != nil {
		fatalf("db error: %v", err)
	}

	processorClient, err := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorSecret)
	if err != nil {
		fatalf("processor client error: %v", err)
	}

	payouts, err := application.NewPayoutOrchestrator(repo, processorClient, nil, application.PayoutConfig{
		MinAmount:   cfg.MinPayout,
		Currency:    cfg.QuoteCurrency,
		MaxAttempts: cfg.PayoutMaxAttempts,
	})
	if err != nil {
		fatalf("payout orchestrator error: %v", err)
	}

	rateProvider, err := buildRateProvider(cfg)
	if err != nil {
		fatalf("rate provider error: %v", err)
	}

	deposits, err := application.NewDepositService(repo, processorClient, rateProvider, application.DepositConfig{
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		Tokens:        cfg.Tokens,
	})
	if err != nil {
		fatalf("deposit service error: %v", err)
	}

	recovery, err := application.NewRecovery(repo, payouts, deposits, cfg.StuckThreshold)
	if err != nil {
		fatalf("recovery error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch {
	case *scan:
		runScan(ctx, recovery)
	case *resume != "":
		if err := recovery.Resume(ctx, *resume); err != nil {
			fatalf("resume %s: %v", *resume, err)
		}
		fmt.Printf("resumed %s\n", *resume)
	case *fail != "":
		if err := recovery.Fail(ctx, *fail, *reason); err != nil {
			fatalf("fail %s: %v", *fail, err)
		}
		fmt.Printf("failed %s: %s\n", *fail, *reason)
	}
}

func runScan(ctx context.Context, recovery *application.Recovery) {
	stuck, err := recovery.Scan(ctx)
	if err != nil {
		fatalf("scan error: %v", err)
	}
	if len(stuck) == 0 {
		fmt.Println("no stuck transactions")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFLOW\tSTATUS\tTOKEN\tAMOUNT\tREFERENCE\tAGE\tLAST ERROR")
	now := time.Now()
	for _, tx := range stuck {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID,
			tx.Flow,
			tx.Status,
			tx.Token,
			tx.AmountSource,
			tx.Reference,
			now.Sub(tx.UpdatedAt).Round(time.Minute),
			tx.Meta(domain.MetaLastError),
		)
	}
	w.Flush()
	fmt.Printf("%d stuck transaction(s)\n", len(stuck))
}

// runEvents lists every audited chain event behind a ref, newest first. This
// is the dispute path: the ledger holds the matching outcome, the audit store
// holds what the chain actually said.
func runEvents(ctx context.Context, cfg config.Config, ref string) {
	if cfg.ClickhouseDSN == "" {
		fatalf("CLICKHOUSE_DSN is required for -events")
	}
	audit, err := clickhouse.NewEventAudit(cfg.ClickhouseDSN)
	if err != nil {
		fatalf("clickhouse error: %v", err)
	}

	events, err := audit.FindByRef(ctx, domain.NormalizeRef(ref), 100)
	if err != nil {
		fatalf("events %s: %v", ref, err)
	}
	if len(events) == 0 {
		fmt.Printf("no audited events for %s\n", ref)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCHAIN\tBLOCK\tLOG\tTX REF\tUSER\tTOKEN\tAMOUNT\tNONCE\tWITHDRAWAL ID")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			ev.Kind,
			ev.ChainID,
			ev.BlockNumber,
			ev.LogIndex,
			ev.TxRef,
			ev.User,
			ev.Token,
			ev.Amount,
			ev.Nonce,
			ev.WithdrawalID,
		)
	}
	w.Flush()
	fmt.Printf("%d audited event(s)\n", len(events))
}

// buildRateProvider skips the Redis cache: recovery never locks a rate, the
// provider only satisfies the deposit service constructor.
func buildRateProvider(cfg config.Config) (application.RateProvider, error) {
	if cfg.RateURL != "" {
		return rates.NewClient(cfg.RateURL)
	}
	if cfg.StaticRate.IsPositive() {
		return rates.NewStatic(cfg.StaticRate)
	}
	return rates.NewStatic(decimal.NewFromInt(1))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
