package devschedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/squall/internal/dag"
	"github.com/oriys/squall/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	calls atomic.Int32
}

func (f *fakeSubmitter) Submit(_ context.Context, _ domain.Schedule, _ []domain.DagTrigger) (dag.StepOutcome, error) {
	f.calls.Add(1)
	return dag.StepOutcome{}, nil
}

func TestRunnerInvokesOnEverySecond(t *testing.T) {
	fake := &fakeSubmitter{}
	r := New(fake)
	require.NoError(t, r.Add("@every 1s", domain.Schedule{ID: "soak-1"}))
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool {
		return fake.calls.Load() >= 2
	}, 3*time.Second, 5*time.Millisecond)
}

func TestRunnerRemoveStopsFutureInvocations(t *testing.T) {
	fake := &fakeSubmitter{}
	r := New(fake)
	require.NoError(t, r.Add("@every 10ms", domain.Schedule{ID: "soak-2"}))
	r.Start()

	require.Eventually(t, func() bool {
		return fake.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	r.Remove("soak-2")
	count := fake.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, count, fake.calls.Load())
	r.Stop()
}
