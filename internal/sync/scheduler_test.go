package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Start(t *testing.T) {
	t.Run("empty spec disables scheduling", func(t *testing.T) {
		fs := newFakeServer(t)
		engine, _ := newTestEngine(t, fs.server.URL)

		s := NewScheduler(engine, "")
		require.NoError(t, s.Start())
		defer s.Stop()

		assert.Empty(t, s.cron.Entries())
	})

	t.Run("invalid spec errors", func(t *testing.T) {
		fs := newFakeServer(t)
		engine, _ := newTestEngine(t, fs.server.URL)

		s := NewScheduler(engine, "not a cron spec")
		assert.Error(t, s.Start())
	})

	t.Run("valid spec registers an entry", func(t *testing.T) {
		fs := newFakeServer(t)
		engine, _ := newTestEngine(t, fs.server.URL)

		s := NewScheduler(engine, "@every 1h")
		require.NoError(t, s.Start())
		defer s.Stop()

		assert.Len(t, s.cron.Entries(), 1)
	})
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	fs := newFakeServer(t)
	// Stretch the pull phase so the pass is observably in flight.
	fs.listDelay = 300 * time.Millisecond
	engine, _ := newTestEngine(t, fs.server.URL)

	s := NewScheduler(engine, "@every 1h")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := engine.TriggerSync(context.Background())
		assert.NoError(t, err)
	}()

	require.Eventually(t, engine.Running, time.Second, 5*time.Millisecond)

	// A trigger firing mid-pass must return without queuing a second
	// pass behind the running one.
	s.trigger()

	<-done
	assert.Equal(t, int64(1), fs.listHits.Load())
}
