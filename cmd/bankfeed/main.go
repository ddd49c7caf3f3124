package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rumor-ml/bankfeed/internal/events"
	"github.com/rumor-ml/bankfeed/internal/firestore"
	"github.com/rumor-ml/bankfeed/internal/importer"
	"github.com/rumor-ml/bankfeed/internal/ingest"
	"github.com/rumor-ml/bankfeed/internal/recurring"
	"github.com/rumor-ml/bankfeed/internal/rules"
	"github.com/rumor-ml/bankfeed/internal/scanner"
	"github.com/rumor-ml/bankfeed/internal/server"
	"github.com/rumor-ml/bankfeed/internal/store"
	"github.com/rumor-ml/bankfeed/internal/ui"
)

const (
	version = "0.1.0"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")
	dbPath      = flag.String("db", "", "SQLite database path (required)")

	// Serve mode
	listenAddr  = flag.String("listen", "", "Serve the HTTP API on this address (requires -project)")
	projectID   = flag.String("project", "", "Firestore project for the read-model mirror and auth")
	credentials = flag.String("credentials", "", "Credentials file for the Firestore project")
	workers     = flag.Int("workers", 4, "Ingestion worker pool size")

	// One-shot modes
	importFile   = flag.String("import", "", "Import a statement file, or every statement file under a directory, and exit")
	accountID    = flag.String("account", "", "Account id for -import")
	seedRules    = flag.String("seed-rules", "", "Load categorization rules from a YAML file")
	runRecurring = flag.Bool("run-recurring", false, "Post due recurring transactions and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bankfeed - bank statement ingestion service

Usage:
  bankfeed [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Serve the API with four ingestion workers
  bankfeed -db bankfeed.db -listen :8080 -project my-project

  # One-shot import of a statement
  bankfeed -db bankfeed.db -import statement.csv -account acc-1

  # Import every statement file under a directory
  bankfeed -db bankfeed.db -import ~/statements -account acc-1

  # Seed categorization rules
  bankfeed -db bankfeed.db -seed-rules rules.yaml

  # Post due recurring transactions
  bankfeed -db bankfeed.db -run-recurring

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("bankfeed version %s\n", version)
		os.Exit(0)
	}

	if err := validateFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

// validateFlags checks flag combinations before any resource is opened
func validateFlags() error {
	if *dbPath == "" {
		return fmt.Errorf("-db flag is required")
	}

	modes := 0
	if *listenAddr != "" {
		modes++
	}
	if *importFile != "" {
		modes++
	}
	if *runRecurring {
		modes++
	}
	if modes > 1 {
		return fmt.Errorf("-listen, -import and -run-recurring are mutually exclusive")
	}
	if modes == 0 && *seedRules == "" {
		return fmt.Errorf("nothing to do: pass -listen, -import, -seed-rules or -run-recurring")
	}

	if *importFile != "" && *accountID == "" {
		return fmt.Errorf("-import requires -account")
	}
	if *listenAddr != "" && *projectID == "" {
		return fmt.Errorf("-listen requires -project for request authentication")
	}
	if *workers < 1 {
		return fmt.Errorf("-workers must be at least 1")
	}

	return nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", *dbPath, err)
	}
	defer st.Close()

	var fsClient *firestore.Client
	if *projectID != "" {
		fsClient, err = firestore.NewClient(ctx, *projectID, *credentials)
		if err != nil {
			return fmt.Errorf("failed to connect to project %s: %w", *projectID, err)
		}
		defer fsClient.Close()
	}

	if *seedRules != "" {
		if err := seed(ctx, st); err != nil {
			return err
		}
	}

	switch {
	case *importFile != "":
		return oneShotImport(ctx, st, fsClient)
	case *runRecurring:
		return postRecurring(ctx, st, fsClient)
	case *listenAddr != "":
		return serve(ctx, st, fsClient)
	}
	return nil
}

// seed loads rules from the YAML file and saves them
func seed(ctx context.Context, st *store.Store) error {
	loaded, err := rules.LoadSeedFile(*seedRules)
	if err != nil {
		return err
	}

	for _, rule := range loaded {
		if err := st.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("failed to save rule %q: %w", rule.Contains, err)
		}
	}

	ui.Success(fmt.Sprintf("Seeded %d rules from %s", len(loaded), *seedRules))
	return nil
}

// oneShotImport runs one statement file, or every statement file under
// a directory, through the pipeline synchronously.
func oneShotImport(ctx context.Context, st *store.Store, fsClient *firestore.Client) error {
	paths, err := importPaths(*importFile)
	if err != nil {
		return err
	}

	account, err := st.GetAccount(ctx, *accountID)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", *accountID, err)
	}

	pipeline := ingest.NewPipeline(st, importer.Default(), rules.NewEngine(), mirror(fsClient), invalidator(fsClient))

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		job := &ingest.Job{
			AccountID: account.ID,
			UserID:    account.UserID,
			Filename:  filepath.Base(path),
			Data:      data,
		}

		if len(paths) > 1 {
			ui.Step(i+1, len(paths), job.Filename)
		}
		if err := pipeline.Run(ctx, job); err != nil {
			return fmt.Errorf("import of %s failed: %w", path, err)
		}

		account, err = st.GetAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		ui.ImportSummary(job.Filename, job.Staged, job.Materialized, account.Balance.String())
	}
	return nil
}

// importPaths resolves the -import argument to the statement files to
// run, scanning recursively when it names a directory.
func importPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	paths, err := scanner.New(path).Scan()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no statement files found under %s", path)
	}
	return paths, nil
}

// postRecurring posts all due recurring transactions
func postRecurring(ctx context.Context, st *store.Store, fsClient *firestore.Client) error {
	runner := recurring.NewRunner(st, invalidator(fsClient))
	posted, err := runner.RunDue(ctx, time.Now())
	if err != nil {
		return err
	}
	ui.Success(fmt.Sprintf("Posted %d recurring transactions", posted))
	return nil
}

// serve runs the HTTP API until interrupted
func serve(ctx context.Context, st *store.Store, fsClient *firestore.Client) error {
	pipeline := ingest.NewPipeline(st, importer.Default(), rules.NewEngine(), mirror(fsClient), invalidator(fsClient))
	queue := ingest.NewQueue(pipeline.Run, *workers)

	// Workers run detached from the shutdown signal: accepted jobs must
	// complete during the Stop drain, not fail with a canceled context.
	queue.Start(context.WithoutCancel(ctx))

	srv := server.New(st, queue, importer.Default(), rules.NewEngine(), fsClient.Auth)
	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("INFO: listening on %s with %d workers", *listenAddr, *workers)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		queue.Stop()
		return err
	case <-ctx.Done():
	}

	log.Printf("INFO: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}

	// Drain buffered and in-flight jobs before closing the store
	queue.Stop()
	return <-errCh
}

// mirror adapts the optional Firestore client to the pipeline's Mirror
func mirror(fsClient *firestore.Client) ingest.Mirror {
	if fsClient == nil {
		return nil
	}
	return fsClient
}

// invalidator adapts the optional Firestore client to the event bus
func invalidator(fsClient *firestore.Client) events.Invalidator {
	if fsClient == nil {
		return nil
	}
	return fsClient
}
