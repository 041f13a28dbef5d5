package forum

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	opGetBackground   = "forum.get_background"
	opSetBackground   = "forum.set_background"
	opClearBackground = "forum.clear_background"
)

// Background returns the board background (a URL or data URI), if one is set.
func (repository *Repository) Background(ctx context.Context) (string, bool, error) {
	value, ok, err := repository.store.Get(ctx, KeyBackground)
	if err != nil {
		repository.logError(opGetBackground, reasonStoreRead, err)
		return "", false, newServiceError(opGetBackground, reasonStoreRead, err)
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

// SetBackground stores the background. A blank value clears it.
func (repository *Repository) SetBackground(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return repository.ClearBackground(ctx)
	}
	if err := repository.store.Set(ctx, KeyBackground, value); err != nil {
		repository.logError(opSetBackground, reasonStoreWrite, err, zap.Int("length", len(value)))
		return newServiceError(opSetBackground, reasonStoreWrite, err)
	}
	return nil
}

func (repository *Repository) ClearBackground(ctx context.Context) error {
	if err := repository.store.Delete(ctx, KeyBackground); err != nil {
		repository.logError(opClearBackground, reasonStoreWrite, err)
		return newServiceError(opClearBackground, reasonStoreWrite, err)
	}
	return nil
}
