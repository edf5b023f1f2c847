// Command order-export dumps the order ledger and the payment idempotency
// journal as gzip-compressed NDJSON for offline audit. While streaming the
// journal it flags provider transaction ids that appear under more than one
// provider, which indicates misrouted webhook traffic.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/proofroom/proofroom/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	progressEvery = 100_000
)

func main() {
	var (
		databaseURL string
		outDir      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outDir, "out-dir", "export", "directory for the export files")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outDir); err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("export completed successfully")
}

func run(ctx context.Context, databaseURL, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", outDir)
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return exportOrders(ctx, pool, filepath.Join(outDir, "orders.ndjson.gz"))
	})
	g.Go(func() error {
		return exportPayments(ctx, pool, filepath.Join(outDir, "payments.ndjson.gz"))
	})
	return g.Wait()
}

// lineWriter streams NDJSON lines into a gzip-compressed file.
type lineWriter struct {
	f      *os.File
	gz     *pgzip.Writer
	buf    *bufio.Writer
	enc    jx.Encoder
	closed bool
}

func newLineWriter(path string) (*lineWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	gz := pgzip.NewWriter(f)
	return &lineWriter{f: f, gz: gz, buf: bufio.NewWriter(gz)}, nil
}

func (w *lineWriter) writeLine(build func(e *jx.Encoder)) error {
	w.enc.Reset()
	build(&w.enc)
	if _, err := w.buf.Write(w.enc.Bytes()); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

func (w *lineWriter) close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.gz.Close(); err != nil {
		return err
	}
	return w.f.Close()
}

const exportOrdersSQL = `SELECT id, studio_id, session_id, guest_email, payment_method,
	total_amount, discount, final_amount, status, payment_status, created_at
	FROM orders ORDER BY created_at`

func exportOrders(ctx context.Context, pool *pgxpool.Pool, path string) error {
	w, err := newLineWriter(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.close() }()

	rows, err := pool.Query(ctx, exportOrdersSQL)
	if err != nil {
		return errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var count uint64
	for rows.Next() {
		var (
			id, studioID, sessionID, guestEmail string
			method, status, payStatus           string
			total, discount, final              decimal.Decimal
			createdAt                           time.Time
		)
		if err := rows.Scan(&id, &studioID, &sessionID, &guestEmail, &method,
			&total, &discount, &final, &status, &payStatus, &createdAt); err != nil {
			return errors.Wrap(err, "scan order")
		}

		if err := w.writeLine(func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(id)
			e.FieldStart("studio_id")
			e.Str(studioID)
			e.FieldStart("session_id")
			e.Str(sessionID)
			e.FieldStart("guest_email")
			e.Str(guestEmail)
			e.FieldStart("payment_method")
			e.Str(method)
			e.FieldStart("total_amount")
			e.Str(total.StringFixed(2))
			e.FieldStart("discount")
			e.Str(discount.StringFixed(2))
			e.FieldStart("final_amount")
			e.Str(final.StringFixed(2))
			e.FieldStart("status")
			e.Str(status)
			e.FieldStart("payment_status")
			e.Str(payStatus)
			e.FieldStart("created_at")
			e.Str(createdAt.UTC().Format(time.RFC3339))
			e.ObjEnd()
		}); err != nil {
			return errors.Wrap(err, "write order line")
		}

		count++
		if count%progressEvery == 0 {
			slog.Info("order export progress", slog.Uint64("rows", count))
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate orders")
	}

	if err := w.close(); err != nil {
		return errors.Wrap(err, "close orders export")
	}
	slog.Info("orders exported", slog.Uint64("rows", count), slog.String("path", path))
	return nil
}

const exportPaymentsSQL = `SELECT provider, provider_txn_id, order_id, outcome, result, created_at
	FROM payment_idempotency ORDER BY created_at`

func exportPayments(ctx context.Context, pool *pgxpool.Pool, path string) error {
	w, err := newLineWriter(path)
	if err != nil {
		return err
	}
	defer func() { _ = w.close() }()

	rows, err := pool.Query(ctx, exportPaymentsSQL)
	if err != nil {
		return errors.Wrap(err, "query payment journal")
	}
	defer rows.Close()

	// Transaction ids are unique per provider by the table's primary key.
	// The filter catches the same id arriving from two different providers;
	// hits are probabilistic, so they are reported for review, not acted on.
	seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)

	var count, crossProvider uint64
	for rows.Next() {
		var (
			provider, txnID, orderID string
			outcome, result          string
			createdAt                time.Time
		)
		if err := rows.Scan(&provider, &txnID, &orderID, &outcome, &result, &createdAt); err != nil {
			return errors.Wrap(err, "scan payment journal row")
		}

		if seen.TestAndAddString(txnID) {
			crossProvider++
			slog.Warn("transaction id seen under multiple providers",
				slog.String("provider", provider),
				slog.String("txn_id", txnID),
				slog.String("order_id", orderID),
			)
		}

		if err := w.writeLine(func(e *jx.Encoder) {
			e.ObjStart()
			e.FieldStart("provider")
			e.Str(provider)
			e.FieldStart("provider_txn_id")
			e.Str(txnID)
			e.FieldStart("order_id")
			e.Str(orderID)
			e.FieldStart("outcome")
			e.Str(outcome)
			e.FieldStart("result")
			e.Str(result)
			e.FieldStart("created_at")
			e.Str(createdAt.UTC().Format(time.RFC3339))
			e.ObjEnd()
		}); err != nil {
			return errors.Wrap(err, "write payment line")
		}

		count++
		if count%progressEvery == 0 {
			slog.Info("payment export progress", slog.Uint64("rows", count))
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate payment journal")
	}

	if err := w.close(); err != nil {
		return errors.Wrap(err, "close payments export")
	}
	slog.Info("payment journal exported",
		slog.Uint64("rows", count),
		slog.Uint64("probable_cross_provider_ids", crossProvider),
		slog.String("path", path),
	)
	return nil
}
