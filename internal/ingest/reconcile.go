package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"resume-intake/internal/llm"
	"resume-intake/internal/normalize"
	"resume-intake/internal/storage/models"
)

// RichRepairer finds and fills compact records that lost their rich record.
type RichRepairer interface {
	FindMissingRich(ctx context.Context, limit int) ([]models.CompactRecord, error)
	UpsertRich(ctx context.Context, id string, c normalize.Candidate) error
	WriteCategories(ctx context.Context, id string, categories map[string]any)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Found    int
	Repaired int
	Failed   int
	IDs      []string
}

// ReconcileOptions tunes a pass. Repair false only reports the residue.
// Categories also rebuilds the topic classification of repaired records.
type ReconcileOptions struct {
	Limit       int
	Repair      bool
	Categories  bool
	Concurrency int
}

// Reconcile makes one pass over compact records without a rich record. In
// repair mode each stored raw text is sent through field extraction again
// and the rich record is upserted. Failed records stay in the residue for
// the next pass.
func Reconcile(ctx context.Context, store RichRepairer, fields FieldExtractor, opts ReconcileOptions, log zerolog.Logger) (ReconcileReport, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	records, err := store.FindMissingRich(ctx, opts.Limit)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Found: len(records)}
	for _, r := range records {
		report.IDs = append(report.IDs, r.ID)
	}
	if !opts.Repair || len(records) == 0 {
		return report, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, opts.Concurrency)
	)
	for _, rec := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec models.CompactRecord) {
			defer func() {
				<-sem
				wg.Done()
			}()
			err := repairOne(ctx, store, fields, rec, opts.Categories, log)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				log.Error().Err(err).Str("resume_id", rec.ID).Msg("repair failed")
				return
			}
			report.Repaired++
			log.Info().Str("resume_id", rec.ID).Msg("rich record restored")
		}(rec)
	}
	wg.Wait()
	return report, nil
}

func repairOne(ctx context.Context, store RichRepairer, fields FieldExtractor, rec models.CompactRecord, categories bool, log zerolog.Logger) error {
	if rec.RawText == "" {
		return fmt.Errorf("%s: %w", rec.ID, ErrEmptyDocument)
	}
	reply, err := fields.ExtractFields(ctx, rec.RawText)
	if err != nil {
		return fmt.Errorf("%s: extract fields: %w", rec.ID, err)
	}
	decoded, err := llm.DecodeReply(reply)
	if err != nil {
		return fmt.Errorf("%s: decode reply: %w", rec.ID, err)
	}
	if err := store.UpsertRich(ctx, rec.ID, normalize.Normalize(decoded, rec.RawText)); err != nil {
		return err
	}
	if categories {
		if cats := extractCategories(ctx, fields, log.With().Str("resume_id", rec.ID).Logger(), decoded); cats != nil {
			store.WriteCategories(ctx, rec.ID, cats)
		}
	}
	return nil
}
