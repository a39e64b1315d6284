package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailbot/internal/state"
	"github.com/tracyhatemice/mailbot/internal/testutil"
)

func TestSweepAllCoversEveryUser(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 6; i++ {
		id := state.UserID(i)
		addr := fmt.Sprintf("u%d@a.test", i)
		track(t, f.registry, id, addr)
		f.prov.SetMessages(addr, msg("1"), msg("2"))
	}

	s := NewScheduler(f.registry, f.poller, time.Minute, 3, testutil.DiscardLogger())
	sum, ran := s.SweepAll(context.Background())
	require.True(t, ran)
	assert.Equal(t, Summary{Users: 6, Addresses: 6, Messages: 12}, sum)
	for i := 1; i <= 6; i++ {
		assert.Equal(t, 2, f.notifier.Count(state.UserID(i)))
	}
}

func TestSweepAllNoUsers(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.registry, f.poller, time.Minute, 0, testutil.DiscardLogger())

	sum, ran := s.SweepAll(context.Background())
	assert.True(t, ran)
	assert.Zero(t, sum)
}

func TestConcurrentSweepsNeverDoubleNotify(t *testing.T) {
	f := newFixture(t)
	addrs := []string{"x@a.test", "y@a.test", "z@a.test"}
	track(t, f.registry, user, addrs...)
	for _, a := range addrs {
		f.prov.SetMessages(a, msg("1"), msg("2"), msg("3"), msg("4"), msg("5"))
	}

	s := NewScheduler(f.registry, f.poller, time.Minute, 4, testutil.DiscardLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SweepUser(ctx, user)
		}()
		go func() {
			defer wg.Done()
			s.SweepAll(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 15, f.notifier.Count(user))
}

func TestSweepAllSkipsOverlap(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.notifier.Hook = func(state.UserID, string) {
		close(entered)
		<-release
	}

	s := NewScheduler(f.registry, f.poller, time.Minute, 1, testutil.DiscardLogger())
	ctx := context.Background()

	done := make(chan Summary)
	go func() {
		sum, _ := s.SweepAll(ctx)
		done <- sum
	}()

	<-entered
	_, ran := s.SweepAll(ctx)
	assert.False(t, ran)

	close(release)
	assert.Equal(t, 1, (<-done).Messages)
}

func TestRunSweepsImmediatelyAndStops(t *testing.T) {
	f := newFixture(t)
	track(t, f.registry, user, "x@a.test")
	f.prov.SetMessages("x@a.test", msg("1"))

	ctx, cancel := context.WithCancel(context.Background())
	f.notifier.Hook = func(state.UserID, string) { cancel() }

	s := NewScheduler(f.registry, f.poller, time.Hour, 1, testutil.DiscardLogger())

	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Equal(t, 1, f.notifier.Count(user))
}
