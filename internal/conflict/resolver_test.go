package conflict

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

func TestResolveConflict(t *testing.T) {
	tests := []struct {
		name     string
		strategy models.ConflictStrategy
		expected interface{}
		resolved bool
	}{
		{"source wins", models.StrategySourceWins, "source", true},
		{"target wins", models.StrategyTargetWins, "target", true},
		{"newest wins without timestamps", models.StrategyNewestWins, "source", true},
		{"manual", models.StrategyManual, nil, false},
		{"unknown strategy", models.ConflictStrategy("coin_flip"), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, resolved := ResolveConflict(tt.strategy, "source", "target")
			assert.Equal(t, tt.expected, value)
			assert.Equal(t, tt.resolved, resolved)
		})
	}
}

func TestResolver_NewestWins(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	tests := []struct {
		name     string
		source   *time.Time
		target   *time.Time
		expected interface{}
	}{
		{"target newer", &older, &newer, 12.5},
		{"source newer", &newer, &older, 10.0},
		{"tie keeps source", &older, &older, 10.0},
		{"missing target timestamp", &older, nil, 10.0},
		{"missing source timestamp", nil, &newer, 10.0},
	}

	logger, _ := logtest.NewNullLogger()
	resolver := NewResolver(logger)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolution := resolver.Resolve(models.StrategyNewestWins, models.PotentialConflict{
				RecordID:        "sku-1",
				FieldName:       "price",
				SourceValue:     10.0,
				TargetValue:     12.5,
				SourceUpdatedAt: tt.source,
				TargetUpdatedAt: tt.target,
			})
			require.NotNil(t, resolution)
			assert.Equal(t, tt.expected, resolution.ResolvedValue)
			assert.Equal(t, models.StrategyNewestWins, resolution.Strategy)
			assert.False(t, resolution.ResolvedAt.IsZero())
		})
	}
}

func TestResolver_Manual(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	resolution := NewResolver(logger).Resolve(models.StrategyManual, models.PotentialConflict{
		RecordID:    "sku-1",
		FieldName:   "stock",
		SourceValue: 3,
		TargetValue: 5,
	})
	assert.Nil(t, resolution)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "Conflict queued for manual review", entry.Message)
	assert.Equal(t, "sku-1", entry.Data["record_id"])
}
