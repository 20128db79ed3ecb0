package service

import (
	"context"

	"go.uber.org/zap"
)

// LabelReloader reloads the detail label dictionary.
type LabelReloader interface {
	Reload(ctx context.Context) error
	Snapshot() map[string]string
}

// LabelReload is returned by Labels.Reload.
type LabelReload struct {
	Labels int `json:"labels"`
}

// Labels exposes the label dictionary's force reload.
type Labels struct {
	provider LabelReloader
	logger   *zap.Logger
}

// NewLabels wires the label service.
func NewLabels(provider LabelReloader, logger *zap.Logger) *Labels {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Labels{provider: provider, logger: logger.Named("labels")}
}

// Reload re-reads the override file. On failure the previous table stays active.
func (s *Labels) Reload(ctx context.Context) Result {
	if s.provider == nil {
		return failure(KindUnavailable, "label provider unavailable", nil)
	}
	if err := s.provider.Reload(ctx); err != nil {
		s.logger.Warn("label reload failed", zap.Error(err))
		return failure(KindInvalid, "label reload failed", err)
	}
	n := len(s.provider.Snapshot())
	s.logger.Info("labels reloaded", zap.Int("labels", n))
	return ok("labels reloaded", LabelReload{Labels: n})
}
