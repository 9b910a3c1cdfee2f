package auditarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelhouse/reelhouse/app/models"
	"github.com/reelhouse/reelhouse/app/repository"
)

// Result summarizes one archive run.
type Result struct {
	Objects  int   `json:"objects"`
	Archived int64 `json:"archived"`
}

// Archiver uploads audit rows older than the current UTC day as JSON lines
// and stamps them archived. Rows are only stamped after their object was
// stored, so a failed run is retried in full by the next one.
type Archiver struct {
	repo     repository.AuditRepository
	uploader Uploader
	cfg      *Config
	now      func() time.Time
}

func NewArchiver(repo repository.AuditRepository, uploader Uploader, cfg *Config) *Archiver {
	return &Archiver{repo: repo, uploader: uploader, cfg: cfg, now: time.Now}
}

func (a *Archiver) Run(ctx context.Context) (Result, error) {
	var res Result
	now := a.now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := a.repo.ListUnarchived(cutoff, a.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("list audit rows: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		body, err := encodeLines(rows)
		if err != nil {
			return res, err
		}
		key := a.cfg.ObjectKey(rows[0].CreatedAt, rows[0].ID, rows[len(rows)-1].ID)
		if err := a.uploader.Upload(ctx, key, body); err != nil {
			return res, err
		}

		ids := make([]uint, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		n, err := a.repo.MarkArchived(ids, now)
		if err != nil {
			return res, fmt.Errorf("mark audit rows archived: %w", err)
		}
		res.Objects++
		res.Archived += n
		log.Infof("[AuditArchive] Archived %d audit rows to %s", n, key)

		if len(rows) < a.cfg.BatchSize {
			break
		}
	}
	return res, nil
}

func encodeLines(rows []models.AdminAuditLog) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			return nil, fmt.Errorf("encode audit row %d: %w", rows[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
