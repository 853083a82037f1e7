package acp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextMonitor_EstimateTokensIsCeilLenOverFour(t *testing.T) {
	assert.EqualValues(t, 0, estimateTokens(""))
	assert.EqualValues(t, 1, estimateTokens("a"))
	assert.EqualValues(t, 1, estimateTokens("abcd"))
	assert.EqualValues(t, 2, estimateTokens("abcde"))
	assert.EqualValues(t, 25, estimateTokens(string(make([]byte, 100))))
}

func TestContextMonitor_WarningAndCriticalThresholds(t *testing.T) {
	m := NewContextMonitor(time.Hour, nil)

	_, level := m.AddMessage("s1", string(make([]byte, int(0.70*ContextLimit*4))))
	assert.Equal(t, UsageNone, level)

	_, level = m.AddMessage("s1", string(make([]byte, int(0.15*ContextLimit*4))))
	assert.Equal(t, UsageWarning, level)

	_, level = m.AddMessage("s1", string(make([]byte, int(0.20*ContextLimit*4))))
	assert.Equal(t, UsageCritical, level)
}

func TestContextMonitor_SweepEvictsIdleSessions(t *testing.T) {
	var evicted []string
	fakeNow := time.Now()

	m := NewContextMonitor(time.Minute, func(id string) { evicted = append(evicted, id) })
	m.now = func() time.Time { return fakeNow }

	m.Register("idle-session")
	m.AddMessage("fresh-session", "hi")

	fakeNow = fakeNow.Add(2 * time.Minute)
	m.now = func() time.Time { return fakeNow }
	m.AddMessage("fresh-session", "still here")

	m.sweep()

	assert.Contains(t, evicted, "idle-session")
	assert.NotContains(t, evicted, "fresh-session")
}

func TestContextMonitor_ForgetStopsTracking(t *testing.T) {
	m := NewContextMonitor(time.Hour, nil)
	m.AddMessage("s1", "hello")
	assert.NotZero(t, m.EstimatedTokens("s1"))

	m.Forget("s1")
	assert.Zero(t, m.EstimatedTokens("s1"))
}
