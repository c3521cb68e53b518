package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"tiendapos/backend/internal/store"
)

// FolioSequencer hands out gap-free folios per (branch, series) from the
// folio_sequences entity. It must be called inside the unit of work that
// persists the document so a rollback returns the number.
type FolioSequencer struct{}

func (FolioSequencer) NextFolio(ctx context.Context, tx store.Tx, branchID string, series string) (int64, error) {
	if strings.TrimSpace(branchID) == "" || strings.TrimSpace(series) == "" {
		return 0, store.ErrInvalidTransaction
	}
	return tx.NextFolio(ctx, branchID, series)
}

// withFolioRetry reruns fn when it fails on a folio collision. Any other
// error, including other concurrency conflicts, is returned as is.
func (s *Service) withFolioRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.FolioMaxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrFolioConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WithFields(logrus.Fields{
			"module":  "service",
			"attempt": attempt,
		}).Warn("folio conflict, retrying unit of work")
	}
	return err
}
