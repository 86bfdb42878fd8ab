// Package conflict resolves field-level disagreements between source and
// target systems.
package conflict

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// ResolveConflict maps a strategy and the two values onto the resolved value.
// The boolean is false when the strategy leaves the conflict for a human.
// Without timestamps newest_wins keeps the source value.
func ResolveConflict(strategy models.ConflictStrategy, sourceValue, targetValue interface{}) (interface{}, bool) {
	switch strategy {
	case models.StrategySourceWins, models.StrategyNewestWins:
		return sourceValue, true
	case models.StrategyTargetWins:
		return targetValue, true
	default:
		return nil, false
	}
}

// Resolver applies a strategy to connector-reported candidates
type Resolver struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewResolver creates a new Resolver
func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger, now: time.Now}
}

// Resolve returns the resolution for a candidate, or nil when the strategy is
// manual. newest_wins compares update timestamps and keeps the source value
// on ties or when either timestamp is missing.
func (r *Resolver) Resolve(strategy models.ConflictStrategy, candidate models.PotentialConflict) *models.ConflictResolution {
	var (
		value    interface{}
		resolved bool
		winner   = "source"
	)

	if strategy == models.StrategyNewestWins {
		value, winner = newest(candidate)
		resolved = true
	} else {
		value, resolved = ResolveConflict(strategy, candidate.SourceValue, candidate.TargetValue)
		if strategy == models.StrategyTargetWins {
			winner = "target"
		}
	}

	if !resolved {
		r.logger.WithFields(logrus.Fields{
			"record_id": candidate.RecordID,
			"field":     candidate.FieldName,
			"strategy":  strategy,
		}).Warn("Conflict queued for manual review")
		return nil
	}

	r.logger.WithFields(logrus.Fields{
		"record_id": candidate.RecordID,
		"field":     candidate.FieldName,
		"strategy":  strategy,
		"winner":    winner,
	}).Debug("Conflict resolved")

	return &models.ConflictResolution{
		Strategy:      strategy,
		ResolvedValue: value,
		ResolvedAt:    r.now(),
		ResolvedBy:    "system",
	}
}

func newest(candidate models.PotentialConflict) (interface{}, string) {
	if candidate.SourceUpdatedAt == nil || candidate.TargetUpdatedAt == nil {
		return candidate.SourceValue, "source"
	}
	if candidate.TargetUpdatedAt.After(*candidate.SourceUpdatedAt) {
		return candidate.TargetValue, "target"
	}
	return candidate.SourceValue, "source"
}
