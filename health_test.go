package metergate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mg "github.com/ineyio/metergate"
)

func TestHealthTracker_OpensAfterThreshold(t *testing.T) {
	clock := newClock()
	h := mg.NewHealthTracker(mg.WithHealthClock(clock.Now))

	h.RecordFailure(mg.ProviderGemini)
	h.RecordFailure(mg.ProviderGemini)
	assert.Equal(t, mg.HealthHealthy, h.GetHealth(mg.ProviderGemini))

	h.RecordFailure(mg.ProviderGemini)
	assert.Equal(t, mg.HealthUnhealthy, h.GetHealth(mg.ProviderGemini))
	assert.Equal(t, mg.HealthHealthy, h.GetHealth(mg.ProviderOpenAI))
}

func TestHealthTracker_FailuresOutsideWindowIgnored(t *testing.T) {
	clock := newClock()
	h := mg.NewHealthTracker(mg.WithHealthClock(clock.Now))

	h.RecordFailure(mg.ProviderGroq)
	h.RecordFailure(mg.ProviderGroq)
	clock.Advance(6 * time.Minute)
	h.RecordFailure(mg.ProviderGroq)
	assert.Equal(t, mg.HealthHealthy, h.GetHealth(mg.ProviderGroq))
}

func TestHealthTracker_HalfOpenRecovery(t *testing.T) {
	clock := newClock()
	h := mg.NewHealthTracker(mg.WithHealthClock(clock.Now))
	for i := 0; i < 3; i++ {
		h.RecordFailure(mg.ProviderOpenAI)
	}

	clock.Advance(31 * time.Second)
	assert.Equal(t, mg.HealthHalfOpen, h.GetHealth(mg.ProviderOpenAI))

	h.RecordFailure(mg.ProviderOpenAI)
	assert.Equal(t, mg.HealthUnhealthy, h.GetHealth(mg.ProviderOpenAI))

	clock.Advance(31 * time.Second)
	assert.Equal(t, mg.HealthHalfOpen, h.GetHealth(mg.ProviderOpenAI))
	h.RecordSuccess(mg.ProviderOpenAI)
	assert.Equal(t, mg.HealthHealthy, h.GetHealth(mg.ProviderOpenAI))
}

func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", mg.HealthHealthy.String())
	assert.Equal(t, "unhealthy", mg.HealthUnhealthy.String())
	assert.Equal(t, "half-open", mg.HealthHalfOpen.String())
}

func TestHealthTracker_HalfOpenAllowsSingleProbe(t *testing.T) {
	clock := newClock()
	h := mg.NewHealthTracker(mg.WithHealthClock(clock.Now))
	assert.True(t, h.Allow(mg.ProviderOpenAI))

	for i := 0; i < 3; i++ {
		h.RecordFailure(mg.ProviderOpenAI)
	}
	assert.False(t, h.Allow(mg.ProviderOpenAI))

	clock.Advance(31 * time.Second)
	assert.True(t, h.Allow(mg.ProviderOpenAI))
	assert.False(t, h.Allow(mg.ProviderOpenAI), "second caller while the probe is in flight")

	h.Release(mg.ProviderOpenAI)
	assert.Equal(t, mg.HealthHalfOpen, h.GetHealth(mg.ProviderOpenAI))
	assert.True(t, h.Allow(mg.ProviderOpenAI))

	h.RecordSuccess(mg.ProviderOpenAI)
	assert.True(t, h.Allow(mg.ProviderOpenAI))
	assert.True(t, h.Allow(mg.ProviderOpenAI))
}

func TestHealthTracker_FailedProbeReopens(t *testing.T) {
	clock := newClock()
	h := mg.NewHealthTracker(mg.WithHealthClock(clock.Now))
	for i := 0; i < 3; i++ {
		h.RecordFailure(mg.ProviderGroq)
	}
	clock.Advance(31 * time.Second)
	require.True(t, h.Allow(mg.ProviderGroq))

	h.RecordFailure(mg.ProviderGroq)
	assert.False(t, h.Allow(mg.ProviderGroq))
	clock.Advance(31 * time.Second)
	assert.True(t, h.Allow(mg.ProviderGroq))
}
