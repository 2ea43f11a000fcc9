package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// DefaultImportWorkers is the default number of concurrent workers for file imports
	DefaultImportWorkers = 4
)

// Parser turns a statement file into raw transactions.
type Parser interface {
	ParseFile(path string) ([]*RawTransaction, error)
}

// importJob represents a single file to parse and load
type importJob struct {
	path string
}

// importWorkerResult represents the result of processing a single file
type importWorkerResult struct {
	inserted int
	skipped  int
	err      error
}

// ImportService loads statement files into the raw transaction ledger.
// Files are independent of each other, so they are parsed and inserted
// concurrently by a small worker pool.
type ImportService struct {
	repo        Repository
	workerCount int
	log         zerolog.Logger
}

// NewImportService creates a new import service
func NewImportService(repo Repository, log zerolog.Logger) *ImportService {
	return &ImportService{
		repo:        repo,
		workerCount: DefaultImportWorkers,
		log:         log,
	}
}

// NewImportServiceWithWorkers creates a new import service with custom worker count
func NewImportServiceWithWorkers(repo Repository, workerCount int, log zerolog.Logger) *ImportService {
	if workerCount <= 0 {
		workerCount = DefaultImportWorkers
	}
	return &ImportService{
		repo:        repo,
		workerCount: workerCount,
		log:         log,
	}
}

// ImportFiles parses each file with the given parser and inserts the rows.
// Re-importing a file is safe: rows whose natural key already exists are
// skipped by the repository, not duplicated.
func (s *ImportService) ImportFiles(ctx context.Context, parser Parser, paths []string) *ImportResult {
	result := &ImportResult{
		FilesProcessed: len(paths),
		Errors:         []string{},
	}

	if len(paths) == 0 {
		return result
	}

	jobs := make(chan importJob, len(paths))
	results := make(chan importWorkerResult, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < s.workerCount; i++ {
		wg.Add(1)
		go s.importWorker(ctx, parser, jobs, results, &wg)
	}

	for _, path := range paths {
		jobs <- importJob{path: path}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for workerResult := range results {
		if workerResult.err != nil {
			result.Errors = append(result.Errors, workerResult.err.Error())
		}
		result.Inserted += workerResult.inserted
		result.Skipped += workerResult.skipped
	}

	s.log.Info().
		Int("files", result.FilesProcessed).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("import completed")

	return result
}

// importWorker is a worker goroutine that parses and inserts one file at a time
func (s *ImportService) importWorker(
	ctx context.Context,
	parser Parser,
	jobs <-chan importJob,
	results chan<- importWorkerResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			results <- importWorkerResult{err: ctx.Err()}
			return
		default:
			inserted, skipped, err := s.importFile(ctx, parser, job.path)
			results <- importWorkerResult{
				inserted: inserted,
				skipped:  skipped,
				err:      err,
			}
		}
	}
}

// importFile parses a single file and inserts its rows
func (s *ImportService) importFile(ctx context.Context, parser Parser, path string) (int, int, error) {
	txns, err := parser.ParseFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}

	inserted, skipped, err := s.repo.InsertBatch(ctx, txns)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}

	s.log.Debug().
		Str("path", path).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("file imported")

	return inserted, skipped, nil
}
