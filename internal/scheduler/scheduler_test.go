package scheduler

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"conclave/internal/config"
	"conclave/internal/engine"
	"conclave/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	subs []engine.Submission
	err  error
}

func (f *fakeSubmitter) Submit(sub engine.Submission) (*engine.Run, error) {
	f.subs = append(f.subs, sub)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Run{ID: "run-1", ProtocolID: sub.ProtocolID}, nil
}

func newTestScheduler(t *testing.T, sub Submitter) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "sched.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, sub, config.SchedulerConfig{PollInterval: time.Second}), st
}

func TestPollFiresDueSchedules(t *testing.T) {
	sub := &fakeSubmitter{}
	sched, st := newTestScheduler(t, sub)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.SaveScheduledRun(&store.ScheduledRun{
		ID: "s1", Name: "standup", ProtocolID: "parallel-synthesis",
		Question: "What changed overnight?", Workers: []string{"analyst", "skeptic"},
		Schedule: `{"kind":"interval","interval_ms":3600000}`, Status: "active", NextRunAt: &past,
	}))

	sched.poll()

	require.Len(t, sub.subs, 1)
	require.Equal(t, "parallel-synthesis", sub.subs[0].ProtocolID)
	require.Equal(t, []string{"analyst", "skeptic"}, sub.subs[0].Workers)

	// The schedule advanced; it must not fire again this poll cycle.
	sr, err := st.GetScheduledRun("s1")
	require.NoError(t, err)
	require.Equal(t, "submitted", sr.LastStatus)
	require.NotNil(t, sr.NextRunAt)
	require.True(t, sr.NextRunAt.After(time.Now()))

	sched.poll()
	require.Len(t, sub.subs, 1)
}

func TestSpentOneShotIsRetired(t *testing.T) {
	sub := &fakeSubmitter{}
	sched, st := newTestScheduler(t, sub)

	past := time.Now().Add(-time.Minute)
	atMs := strconv.FormatInt(past.UnixMilli(), 10)
	require.NoError(t, st.SaveScheduledRun(&store.ScheduledRun{
		ID: "once", Name: "one-off", ProtocolID: "debate", Question: "q",
		Schedule: `{"kind":"once","at_ms":` + atMs + `}`, Status: "active", NextRunAt: &past,
	}))

	sched.poll()

	sr, err := st.GetScheduledRun("once")
	require.NoError(t, err)
	require.Equal(t, "done", sr.Status)
	require.Len(t, sub.subs, 1)
}

func TestSubmissionErrorRecorded(t *testing.T) {
	sub := &fakeSubmitter{err: assertErr("roster too small")}
	sched, st := newTestScheduler(t, sub)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.SaveScheduledRun(&store.ScheduledRun{
		ID: "bad", Name: "bad", ProtocolID: "debate", Question: "q",
		Schedule: `{"kind":"interval","interval_ms":60000}`, Status: "active", NextRunAt: &past,
	}))

	sched.poll()

	sr, err := st.GetScheduledRun("bad")
	require.NoError(t, err)
	require.Equal(t, "error", sr.LastStatus)
	require.Contains(t, sr.LastError, "roster too small")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
