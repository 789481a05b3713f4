package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	testingpkg "github.com/aristath/factorfit/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string {
	return j.name
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "cleanup"}

	require.NoError(t, s.AddJob("@every 1h", job))
	assert.Equal(t, []string{"cleanup"}, s.Jobs())

	err := s.AddJob("@every 1h", job)
	var dup *DuplicateJobError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "cleanup", dup.Name)

	assert.Error(t, s.AddJob("not a schedule", &countingJob{name: "bad"}))
	assert.Len(t, s.Jobs(), 1)

	assert.True(t, s.RemoveJob("cleanup"))
	assert.False(t, s.RemoveJob("cleanup"))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunsScheduledJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "tick", err: errors.New("keeps running after failures")}
	require.NoError(t, s.AddJob("* * * * * *", job))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{name: "once", err: errors.New("boom")}

	assert.EqualError(t, s.RunNow(job), "boom")
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestCheckWALCheckpointsJob(t *testing.T) {
	db, _ := testingpkg.NewTestDB(t, "cache")

	job := NewCheckWALCheckpointsJob(zerolog.Nop(), db, nil)
	assert.Equal(t, "check_wal_checkpoints", job.Name())
	assert.NoError(t, job.Run())
}

func TestCheckWALCheckpointsJob_NoDatabases(t *testing.T) {
	job := NewCheckWALCheckpointsJob(zerolog.Nop())
	assert.NoError(t, job.Run())
}
