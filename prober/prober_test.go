package prober

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakePIN struct{ cleared int }

func (f *fakePIN) Clear() { f.cleared++ }

func TestProbeOnceResetsFailuresWhenCardPresent(t *testing.T) {
	pin := &fakePIN{}
	p := New(func() bool { return true }, pin, clockwork.NewFakeClock(), nil)
	p.failures = 2
	p.probeOnce()
	require.Equal(t, 0, p.failures)
	require.Equal(t, 0, pin.cleared)
}

func TestProbeOnceDoesNotClearBeforeFailLimit(t *testing.T) {
	pin := &fakePIN{}
	p := New(func() bool { return false }, pin, clockwork.NewFakeClock(), nil)
	p.probeOnce()
	p.probeOnce()
	require.Equal(t, 0, pin.cleared)
}

func TestProbeOnceClearsOnThirdConsecutiveAbsence(t *testing.T) {
	pin := &fakePIN{}
	p := New(func() bool { return false }, pin, clockwork.NewFakeClock(), nil)
	p.probeOnce()
	p.probeOnce()
	require.Equal(t, 0, pin.cleared)
	p.probeOnce()
	require.Equal(t, 1, pin.cleared)
}

func TestProbeOnceKeepsClearingOnFurtherAbsences(t *testing.T) {
	pin := &fakePIN{}
	p := New(func() bool { return false }, pin, clockwork.NewFakeClock(), nil)
	for i := 0; i < 5; i++ {
		p.probeOnce()
	}
	require.Equal(t, 3, pin.cleared)
}

func TestRunProbesOnTickerAndStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	present := false
	pin := &fakePIN{}
	p := New(func() bool { return present }, pin, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	for i := 0; i < FailLimit; i++ {
		clock.Advance(Interval)
	}
	require.Eventually(t, func() bool { return pin.cleared == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
