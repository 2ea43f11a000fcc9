package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"sterling/internal/domain/dedup"
	"sterling/internal/domain/ledger"
	"sterling/internal/infrastructure/feeds"
	"sterling/internal/infrastructure/postgres"
	"sterling/internal/shared/config"
	"sterling/internal/shared/logger"
)

const usage = `Sterling Admin CLI - Management commands for the Sterling ledger

Usage:
  admin <command> [options]

Commands:
  migrate          Apply the database schema
  import-csv       Load bank CSV statement files into the raw ledger
  import-legacy    Load transactions from a legacy SQLite export
  alias            Register an account alias for cross-source matching
  dedup            Run the dedup pipeline
  stats            Show dedup statistics
  reset            Delete all match groups (raw rows are kept)

Examples:
  # Apply the schema to a fresh database
  admin migrate

  # Import statement files for one account
  admin import-csv --source=bank_csv --institution=acme_bank --account-ref=CHK-1 --currency=GBP jan.csv feb.csv

  # Import a legacy SQLite export, mapping its account names
  admin import-legacy --db=old/finances.sqlite --institution=acme_bank --currency=GBP --accounts="Checking=CHK-1,Savings=SAV-1"

  # Map a source-specific account reference onto its canonical form
  admin alias --institution=acme_bank --account-ref=ACME0012345 --canonical-ref=CHK-1

  # Preview what a dedup run would do
  admin dedup --dry-run

  # Run dedup for one institution
  admin dedup --institution=acme_bank
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		runMigrate(os.Args[2:])
	case "import-csv":
		runImportCSV(os.Args[2:])
	case "import-legacy":
		runImportLegacy(os.Args[2:])
	case "alias":
		runAlias(os.Args[2:])
	case "dedup":
		runDedup(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

// connect loads configuration and opens the database. The caller owns Close.
func connect() (*config.Config, *postgres.DB) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	return cfg, db
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	timeoutStr := fs.String("timeout", "2m", "Timeout for the operation")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("Schema applied")
}

func runImportCSV(args []string) {
	fs := flag.NewFlagSet("import-csv", flag.ExitOnError)

	source := fs.String("source", "", "Source label for imported rows (e.g. bank_csv)")
	institution := fs.String("institution", "", "Institution the statements belong to")
	accountRef := fs.String("account-ref", "", "Account reference for rows without one")
	currency := fs.String("currency", "GBP", "Currency code for imported amounts")
	dir := fs.String("dir", "", "Import every .csv file in this directory")
	workers := fs.Int("workers", ledger.DefaultImportWorkers, "Number of concurrent file workers")
	timeoutStr := fs.String("timeout", "10m", "Timeout for the operation")

	fs.Usage = func() {
		fmt.Println("Usage: admin import-csv [options] [file...]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *source == "" || *institution == "" || *accountRef == "" {
		fmt.Println("Error: --source, --institution and --account-ref are required")
		fs.Usage()
		os.Exit(1)
	}

	paths := fs.Args()
	if *dir != "" {
		globbed, err := filepath.Glob(filepath.Join(*dir, "*.csv"))
		if err != nil {
			log.Fatalf("Failed to list %s: %v", *dir, err)
		}
		paths = append(paths, globbed...)
	}
	if len(paths) == 0 {
		fmt.Println("Error: at least one statement file is required (positional or --dir)")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	_, db := connect()
	defer db.Close()

	parser := &feeds.CSVParser{
		Source:      *source,
		Institution: *institution,
		AccountRef:  *accountRef,
		Currency:    *currency,
	}

	svc := ledger.NewImportServiceWithWorkers(postgres.NewLedgerRepository(db), *workers, logger.New())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result := svc.ImportFiles(ctx, parser, paths)
	printImportResult(result, time.Since(start))

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func runImportLegacy(args []string) {
	fs := flag.NewFlagSet("import-legacy", flag.ExitOnError)

	dbPath := fs.String("db", "", "Path to the legacy SQLite export")
	institution := fs.String("institution", "", "Institution to file imported rows under")
	currency := fs.String("currency", "GBP", "Currency code for imported amounts")
	accountsStr := fs.String("accounts", "", "Legacy account name mapping (Name=ref,Name2=ref2); unmapped accounts are skipped")
	timeoutStr := fs.String("timeout", "10m", "Timeout for the operation")

	fs.Usage = func() {
		fmt.Println("Usage: admin import-legacy [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *dbPath == "" || *institution == "" || *accountsStr == "" {
		fmt.Println("Error: --db, --institution and --accounts are required")
		fs.Usage()
		os.Exit(1)
	}

	accounts, err := parseAccountMapping(*accountsStr)
	if err != nil {
		log.Fatalf("Invalid --accounts value: %v", err)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	_, db := connect()
	defer db.Close()

	parser := &feeds.LegacyParser{
		Institution: *institution,
		Currency:    *currency,
		Accounts:    accounts,
	}

	svc := ledger.NewImportService(postgres.NewLedgerRepository(db), logger.New())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result := svc.ImportFiles(ctx, parser, []string{*dbPath})
	printImportResult(result, time.Since(start))

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

// parseAccountMapping parses "Name=ref,Name2=ref2" into a map.
func parseAccountMapping(s string) (map[string]string, error) {
	accounts := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, ref, found := strings.Cut(pair, "=")
		if !found || name == "" || ref == "" {
			return nil, fmt.Errorf("expected Name=ref, got %q", pair)
		}
		accounts[strings.TrimSpace(name)] = strings.TrimSpace(ref)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no account mappings given")
	}
	return accounts, nil
}

func printImportResult(result *ledger.ImportResult, elapsed time.Duration) {
	fmt.Printf("\nFiles processed: %d\n", result.FilesProcessed)
	fmt.Printf("Rows inserted:   %d\n", result.Inserted)
	fmt.Printf("Rows skipped:    %d (already imported)\n", result.Skipped)
	if len(result.Errors) > 0 {
		fmt.Printf("Errors:          %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	fmt.Printf("Completed in %v\n", elapsed)
}

func runAlias(args []string) {
	fs := flag.NewFlagSet("alias", flag.ExitOnError)

	institution := fs.String("institution", "", "Institution the alias belongs to")
	accountRef := fs.String("account-ref", "", "Source-specific account reference")
	canonicalRef := fs.String("canonical-ref", "", "Canonical account reference it maps to")

	fs.Usage = func() {
		fmt.Println("Usage: admin alias [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *institution == "" || *accountRef == "" || *canonicalRef == "" {
		fmt.Println("Error: --institution, --account-ref and --canonical-ref are required")
		fs.Usage()
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := postgres.NewLedgerRepository(db)
	alias := ledger.Alias{
		Institution:  *institution,
		AccountRef:   *accountRef,
		CanonicalRef: *canonicalRef,
	}
	if err := repo.UpsertAlias(ctx, alias); err != nil {
		log.Fatalf("Failed to upsert alias: %v", err)
	}

	fmt.Printf("Alias registered: %s/%s -> %s\n", *institution, *accountRef, *canonicalRef)
}

func runDedup(args []string) {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)

	dryRun := fs.Bool("dry-run", false, "Count what would change without writing anything")
	institution := fs.String("institution", "", "Limit the run to one institution (default all)")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation")

	fs.Usage = func() {
		fmt.Println("Usage: admin dedup [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, db := connect()
	defer db.Close()

	rules, err := dedup.LoadRules(cfg.Dedup.RulesPath)
	if err != nil {
		log.Fatalf("Failed to load dedup rules: %v", err)
	}

	engine := dedup.NewEngine(postgres.NewDedupRepository(db), rules, logger.New())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	stats, err := engine.Run(ctx, dedup.RunOptions{
		Institution: *institution,
		DryRun:      *dryRun,
	})
	if err != nil {
		log.Fatalf("Dedup run failed: %v", err)
	}

	if *dryRun {
		fmt.Println("\nDry run, nothing written:")
	}
	fmt.Printf("  Superseded rows suppressed: %d\n", stats.SourceSuperseded)
	fmt.Printf("  Declined rows suppressed:   %d\n", stats.Declined)
	fmt.Printf("  Internal duplicate groups:  %d\n", stats.InternalDuplicateGroups)
	fmt.Printf("  Cross-source groups:        %d\n", stats.CrossSourceGroups)
	fmt.Printf("  Cross-source extensions:    %d\n", stats.CrossSourceExtended)
	fmt.Printf("  Skipped (already grouped):  %d\n", stats.Skipped)
	fmt.Printf("Completed in %v\n", time.Since(start))
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := postgres.NewDedupRepository(db).Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to load stats: %v", err)
	}

	fmt.Printf("\nRaw transactions:    %d\n", stats.RawTotal)
	fmt.Printf("Active transactions: %d\n", stats.ActiveTotal)
	fmt.Printf("Removed from view:   %d\n", stats.Removed)
	fmt.Printf("Match groups:        %d (%d members, %d preferred)\n\n", stats.Groups, stats.Members, stats.Preferred)

	if len(stats.ByRule) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Rule", "Groups", "Members"})
		for _, r := range stats.ByRule {
			table.Append([]string{string(r.Rule), strconv.Itoa(r.Groups), strconv.Itoa(r.Members)})
		}
		table.Render()
	}

	if len(stats.Overlaps) > 0 {
		fmt.Println("\nRemaining cross-source overlaps (likely missing rules):")
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Institution", "Account", "Source A", "Source B", "Rows"})
		for _, o := range stats.Overlaps {
			table.Append([]string{o.Institution, o.AccountRef, o.SourceA, o.SourceB, strconv.Itoa(o.Count)})
		}
		table.Render()
	}
}

func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		fmt.Print("Delete ALL match groups? Raw transactions are kept. [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted")
			return
		}
	}

	_, db := connect()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	deleted, err := postgres.NewDedupRepository(db).Reset(ctx)
	if err != nil {
		log.Fatalf("Reset failed: %v", err)
	}

	fmt.Printf("Deleted %d match groups\n", deleted)
}
