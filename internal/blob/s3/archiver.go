package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// uploadPartSize is the multipart part size for archive uploads.
const uploadPartSize int64 = 8 * 1024 * 1024

// Archiver serializes cold ledger rows to CSV and uploads them, partitioned
// by the year-month of the cutoff. Deleting the archived rows from the
// primary store is the caller's job, after the upload has succeeded.
type Archiver struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewArchiver creates an Archiver writing under the given key prefix,
// e.g. "archive".
func NewArchiver(c *Client, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &Archiver{
		client: c.S3(),
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		bucket: c.Bucket(),
		prefix: prefix,
	}
}

// ArchiveTrades uploads the given trades as one CSV object keyed by the
// cutoff month and returns the number of rows written.
func (a *Archiver) ArchiveTrades(ctx context.Context, trades []domain.Trade, cutoff time.Time) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{
		"source_tx_hash", "fill_index", "wallet", "condition_id", "outcome_index",
		"side", "price", "size", "cost", "fee", "executed_at",
	}); err != nil {
		return 0, fmt.Errorf("s3blob: write trade header: %w", err)
	}
	for _, t := range trades {
		record := []string{
			t.SourceTxHash,
			strconv.Itoa(t.FillIndex),
			t.Wallet,
			t.ConditionID,
			strconv.Itoa(t.OutcomeIndex),
			string(t.Side),
			formatFloat(t.Price),
			formatFloat(t.Size),
			formatFloat(t.Cost),
			formatFloat(t.Fee),
			t.ExecutedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return 0, fmt.Errorf("s3blob: write trade row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("s3blob: flush trade csv: %w", err)
	}

	if err := a.upload(ctx, a.key("trades", cutoff), &buf); err != nil {
		return 0, err
	}
	return int64(len(trades)), nil
}

// ArchiveSnapshots uploads the given snapshots as one CSV object keyed by
// the cutoff month and returns the number of rows written.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, snaps []domain.Snapshot, cutoff time.Time) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{
		"id", "wallet", "realized_pnl", "unrealized_pnl", "total_value", "open_positions", "taken_at",
	}); err != nil {
		return 0, fmt.Errorf("s3blob: write snapshot header: %w", err)
	}
	for _, s := range snaps {
		record := []string{
			s.ID,
			s.Wallet,
			formatFloat(s.RealizedPnL),
			formatFloat(s.UnrealizedPnL),
			formatFloat(s.TotalValue),
			strconv.Itoa(s.OpenPositions),
			s.TakenAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return 0, fmt.Errorf("s3blob: write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("s3blob: flush snapshot csv: %w", err)
	}

	if err := a.upload(ctx, a.key("snapshots", cutoff), &buf); err != nil {
		return 0, err
	}
	return int64(len(snaps)), nil
}

func (a *Archiver) upload(ctx context.Context, key string, body *bytes.Buffer) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

// key builds the object key for one archive file, partitioned by the cutoff
// month and stamped with the upload time so pages from one run never
// overwrite each other, e.g. archive/trades/2026-08/20260831T031500.csv.
func (a *Archiver) key(kind string, cutoff time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s.csv",
		a.prefix, kind,
		cutoff.UTC().Format("2006-01"),
		time.Now().UTC().Format("20060102T150405.000000000"),
	)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
