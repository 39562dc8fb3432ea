package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dshills/moviesearch/internal/storage"
)

// Stager writes staging records. storage.SQLiteStorage satisfies it.
type Stager interface {
	PutStagingRecord(ctx context.Context, rec *storage.StagingRecord) error
}

// Stage decodes a JSON array of staging records from r and writes each one
// under its staging key. Records are streamed; the array is never held in
// memory as a whole. It returns the number of records written before the
// first error.
func Stage(ctx context.Context, store Stager, r io.Reader) (int, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("failed to read staging file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, fmt.Errorf("%w: expected a JSON array", storage.ErrInvalidStagingRecord)
	}

	staged := 0
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return staged, err
		}

		var rec storage.StagingRecord
		if err := dec.Decode(&rec); err != nil {
			return staged, fmt.Errorf("%w: record %d: %v", storage.ErrInvalidStagingRecord, staged, err)
		}
		rec.Key = storage.StagingKey(rec.ID)
		if err := store.PutStagingRecord(ctx, &rec); err != nil {
			return staged, fmt.Errorf("failed to stage movie %d: %w", rec.ID, err)
		}
		staged++
	}

	if _, err := dec.Token(); err != nil {
		return staged, fmt.Errorf("failed to read staging file: %w", err)
	}
	return staged, nil
}
