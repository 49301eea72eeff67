package cronrunner_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cronrunner "github.com/alejandrodnm/updown/internal/cron"
)

func TestRunner_RejectsInvalidSpec(t *testing.T) {
	r := cronrunner.New(context.Background())
	err := r.Add("bad", "every midnight", func(context.Context) {})
	assert.Error(t, err)
}

func TestRunner_RunsJobWithBaseContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "rollover")
	r := cronrunner.New(ctx)

	got := make(chan any, 1)
	require.NoError(t, r.Add("tick", "* * * * * *", func(c context.Context) {
		select {
		case got <- c.Value(key{}):
		default:
		}
	}))
	r.Start()
	defer r.Stop()

	select {
	case v := <-got:
		assert.Equal(t, "rollover", v)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := cronrunner.New(context.Background())
	ran := make(chan struct{}, 4)
	require.NoError(t, r.Add("boom", "* * * * * *", func(context.Context) {
		ran <- struct{}{}
		panic("boom")
	}))
	r.Start()
	defer r.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestRunner_SkipsOverlappingRuns(t *testing.T) {
	r := cronrunner.New(context.Background())
	var runs atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	require.NoError(t, r.Add("slow", "* * * * * *", func(context.Context) {
		runs.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}))
	r.Start()
	defer r.Stop()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	// al menos dos disparos más mientras el primero sigue bloqueado
	time.Sleep(2200 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	close(release)
}
