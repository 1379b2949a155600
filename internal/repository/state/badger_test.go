package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-engine/internal/capability"
	domain "github.com/oshokin/alarm-engine/internal/domain/alarm"
)

// newTestRepository opens an in-memory store that closes with the test.
func newTestRepository(t *testing.T) *BadgerRepository {
	t.Helper()

	repo, err := NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, repo.Close())
	})

	return repo
}

// TestConfigRecords covers save, load and delete of alarm config records.
func TestConfigRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepository(t)

	configs, err := repo.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Empty(t, configs)

	cfg := &domain.Config{
		ID:           "wake-up",
		Start:        domain.TimeOfDay{Hour: 6, Minute: 30},
		End:          domain.TimeOfDay{Hour: 7, Minute: 30},
		Repeat:       domain.Repeat{Kind: domain.RepeatDaily},
		Enabled:      true,
		SoundProfile: "classic",
		Haptics:      true,
	}
	require.NoError(t, repo.SaveConfig(ctx, cfg))
	require.Error(t, repo.SaveConfig(ctx, nil))

	configs, err = repo.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	require.Equal(t, cfg, configs[0])

	require.NoError(t, repo.DeleteConfig(ctx, "wake-up"))
	require.NoError(t, repo.DeleteConfig(ctx, "unknown"))

	configs, err = repo.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Empty(t, configs)
}

// TestInstanceRecords covers save, load and delete of instance records.
func TestInstanceRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepository(t)

	fired := time.Now().Truncate(time.Second).UTC()
	instance := &domain.Instance{
		ID:             "i-1",
		AlarmID:        "wake-up",
		ScheduledTime:  fired.Add(-time.Minute),
		ExpiryTime:     fired.Add(time.Hour),
		ActualFireTime: &fired,
		State:          domain.StateRinging,
		SnoozeCount:    1,
		Recurring:      true,
	}
	require.NoError(t, repo.SaveInstance(ctx, instance))

	instances, err := repo.LoadInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, instance, instances[0])

	require.NoError(t, repo.DeleteInstance(ctx, "i-1"))

	instances, err = repo.LoadInstances(ctx)
	require.NoError(t, err)
	require.Empty(t, instances)
}

// TestCapabilityRecords covers save, load and bulk delete of capability stats.
func TestCapabilityRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().Truncate(time.Second).UTC()
	require.NoError(t, repo.SaveCapability(ctx, "exact_wake", capability.Stats{
		SuccessfulDeliveries: 3,
		FirstRunAt:           now,
	}))
	require.NoError(t, repo.SaveCapability(ctx, "overlay", capability.Stats{
		SuccessfulDeliveries: 1,
		SetupCompletedAt:     now,
		FirstRunAt:           now,
	}))

	stats, err := repo.LoadCapabilities(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, 3, stats["exact_wake"].SuccessfulDeliveries)
	require.Equal(t, now, stats["overlay"].SetupCompletedAt)

	require.NoError(t, repo.DeleteCapabilities(ctx))

	stats, err = repo.LoadCapabilities(ctx)
	require.NoError(t, err)
	require.Empty(t, stats)
}

// TestPrefixesDoNotBleed ensures config, instance and capability records
// stay separated in the shared keyspace.
func TestPrefixesDoNotBleed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveConfig(ctx, &domain.Config{
		ID:    "a",
		Start: domain.TimeOfDay{Hour: 6},
		End:   domain.TimeOfDay{Hour: 7},
	}))
	require.NoError(t, repo.SaveInstance(ctx, &domain.Instance{
		ID:      "a",
		AlarmID: "a",
		State:   domain.StateArmed,
	}))
	require.NoError(t, repo.SaveCapability(ctx, "a", capability.Stats{}))

	configs, err := repo.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)

	instances, err := repo.LoadInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	require.NoError(t, repo.DeleteCapabilities(ctx))

	configs, err = repo.LoadConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1, "capability wipe must not touch configs")
}
