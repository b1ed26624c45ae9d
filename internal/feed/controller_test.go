package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/reelfeed/reelfeed/internal/visibility"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type response struct {
	videos []Video
	err    error
	gate   chan struct{} // when set, FetchPage waits for it to close
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses []response
	pages     []Page
	started   chan Page
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page Page) ([]Video, error) {
	f.mu.Lock()
	f.pages = append(f.pages, page)
	var r response
	if len(f.responses) > 0 {
		r = f.responses[0]
		f.responses = f.responses[1:]
	}
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- page
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.videos, r.err
}

func (f *fakeFetcher) calls() []Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Page(nil), f.pages...)
}

type recordingReporter struct {
	mu       sync.Mutex
	failures []error
}

func (r *recordingReporter) ReportFailure(_ Category, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func videos(ids ...int64) []Video {
	out := make([]Video, 0, len(ids))
	for _, id := range ids {
		out = append(out, Video{ID: id, URL: "/uploads/videos/v.mp4", Title: "clip"})
	}
	return out
}

func ids(vs []Video) []int64 {
	out := make([]int64, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

func TestReset_FirstPageThenExhausted(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{
		{videos: videos(1, 2, 3, 4, 5)},
		{videos: nil},
	}}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	outcome, err := c.Reset(context.Background(), ForYou)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, outcome)

	snap := c.Snapshot()
	assert.Len(t, snap.Videos, 5)
	assert.True(t, snap.HasMore)
	assert.Equal(t, StateIdle, snap.State)

	outcome, err = c.OnNearEnd(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)

	snap = c.Snapshot()
	assert.Len(t, snap.Videos, 5)
	assert.False(t, snap.HasMore)
	assert.Equal(t, StateExhausted, snap.State)

	want := []Page{
		{Category: ForYou, Skip: 0, Limit: 5},
		{Category: ForYou, Skip: 5, Limit: 5},
	}
	if diff := cmp.Diff(want, fetcher.calls()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadNextPage_ExhaustedIssuesNoFetch(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{{videos: nil}}}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	_, err := c.Reset(context.Background(), Podcasts)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		outcome, err := c.OnNearEnd(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
	}
	assert.Len(t, fetcher.calls(), 1)
}

func TestLoadNextPage_BusyIssuesNoFetch(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		responses: []response{{videos: videos(1, 2), gate: gate}},
		started:   make(chan Page, 1),
	}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := c.Reset(context.Background(), ForYou)
		done <- outcome
	}()
	<-fetcher.started

	assert.Equal(t, StateLoading, c.State())
	outcome, err := c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	close(gate)
	assert.Equal(t, OutcomeAppended, <-done)
	assert.Len(t, fetcher.calls(), 1)
	assert.Equal(t, StateIdle, c.State())
}

func TestLoadNextPage_SequenceLengthAndDedup(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{
		{videos: videos(1, 2, 3)},
		{videos: videos(4, 5)},
		{videos: videos(5, 6, 6, 7)},
	}}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	_, err := c.Reset(context.Background(), ForYou)
	require.NoError(t, err)
	_, err = c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Snapshot().Videos, 5)

	_, err = c.LoadNextPage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, ids(c.Snapshot().Videos))
	calls := fetcher.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 3, calls[1].Skip)
	assert.Equal(t, 5, calls[2].Skip)
}

func TestLoadNextPage_FailureIsRetryable(t *testing.T) {
	boom := errors.New("connection refused")
	fetcher := &fakeFetcher{responses: []response{
		{err: boom},
		{videos: videos(1)},
	}}
	reporter := &recordingReporter{}
	c := New(Config{Fetcher: fetcher, Reporter: reporter})
	defer c.Close()

	outcome, err := c.Reset(context.Background(), ForYou)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, outcome)

	snap := c.Snapshot()
	assert.True(t, snap.HasMore)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, "connection refused", snap.LastError)
	require.Len(t, reporter.failures, 1)

	outcome, err = c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, outcome)
	assert.Empty(t, c.Snapshot().LastError)
}

func TestReset_DiscardsStaleResponse(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		responses: []response{
			{videos: videos(100, 101), gate: gate},
			{videos: videos(1, 2, 3)},
		},
		started: make(chan Page, 2),
	}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	stale := make(chan Outcome, 1)
	go func() {
		outcome, _ := c.Reset(context.Background(), ForYou)
		stale <- outcome
	}()
	<-fetcher.started

	outcome, err := c.Reset(context.Background(), Podcasts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, outcome)
	<-fetcher.started

	close(gate)
	assert.Equal(t, OutcomeStale, <-stale)

	snap := c.Snapshot()
	assert.Equal(t, Podcasts, snap.Category)
	assert.Equal(t, []int64{1, 2, 3}, ids(snap.Videos))
}

func TestClose_SuppressesPendingContinuation(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		responses: []response{{videos: videos(1), gate: gate}},
		started:   make(chan Page, 1),
	}
	c := New(Config{Fetcher: fetcher})

	result := make(chan Outcome, 1)
	go func() {
		outcome, _ := c.Reset(context.Background(), ForYou)
		result <- outcome
	}()
	<-fetcher.started

	c.Close()
	close(gate)

	assert.Equal(t, OutcomeStale, <-result)
	assert.Empty(t, c.Snapshot().Videos)

	_, err := c.Reset(context.Background(), ForYou)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_CancelsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	fetcher := FetcherFunc(func(ctx context.Context, _ Page) ([]Video, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := New(Config{Fetcher: fetcher})

	result := make(chan Outcome, 1)
	go func() {
		outcome, _ := c.Reset(context.Background(), ForYou)
		result <- outcome
	}()
	<-started
	c.Close()

	select {
	case outcome := <-result:
		assert.Equal(t, OutcomeStale, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled by Close")
	}
}

func TestFollowing_WithoutTokenFailsFast(t *testing.T) {
	fetcher := &fakeFetcher{}
	reporter := &recordingReporter{}
	c := New(Config{Fetcher: fetcher, Reporter: reporter})
	defer c.Close()

	outcome, err := c.Reset(context.Background(), Following)
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, fetcher.calls())
	assert.Equal(t, StateIdle, c.State())
	require.Len(t, reporter.failures, 1)
}

func TestFollowing_SendsToken(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{{videos: videos(9)}}}
	c := New(Config{Fetcher: fetcher, Tokens: StaticToken("abc.def.ghi")})
	defer c.Close()

	_, err := c.Reset(context.Background(), Following)
	require.NoError(t, err)

	calls := fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc.def.ghi", calls[0].Token)
}

func TestForYou_NeverSendsToken(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{{videos: videos(1)}}}
	c := New(Config{Fetcher: fetcher, Tokens: StaticToken("abc.def.ghi")})
	defer c.Close()

	_, err := c.Reset(context.Background(), ForYou)
	require.NoError(t, err)
	assert.Empty(t, fetcher.calls()[0].Token)
}

func TestReset_UnknownCategory(t *testing.T) {
	c := New(Config{Fetcher: &fakeFetcher{}})
	defer c.Close()

	_, err := c.Reset(context.Background(), Category("trending"))
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestLoadNextPage_BeforeResetIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	outcome, err := c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, fetcher.calls())
}

func TestNearEnd(t *testing.T) {
	assert.True(t, NearEnd(4, 5))
	assert.True(t, NearEnd(3, 5))
	assert.False(t, NearEnd(2, 5))
	assert.True(t, NearEnd(0, 0))
}

func TestOnNearEnd_FarFromEndIsSkipped(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{
		{videos: videos(1, 2, 3, 4, 5)},
		{videos: videos(6)},
	}}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	_, err := c.Reset(context.Background(), ForYou)
	require.NoError(t, err)

	outcome, err := c.OnNearEnd(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Len(t, fetcher.calls(), 1)

	outcome, err = c.OnNearEnd(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, outcome)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids(c.Snapshot().Videos))
}

func TestSetLikes_UpdatesLoadedVideo(t *testing.T) {
	fetcher := &fakeFetcher{responses: []response{{videos: videos(1, 2)}}}
	c := New(Config{Fetcher: fetcher})
	defer c.Close()

	_, err := c.Reset(context.Background(), ForYou)
	require.NoError(t, err)

	assert.True(t, c.SetLikes(2, 9))
	assert.False(t, c.SetLikes(3, 1))
	assert.Equal(t, 9, c.Snapshot().Videos[1].Likes)
}

type fakeMedia struct {
	mu    sync.Mutex
	calls []string
}

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "play")
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "pause")
	return nil
}

func (m *fakeMedia) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func TestOnVisibilityChange_PlayThenPause(t *testing.T) {
	c := New(Config{Fetcher: &fakeFetcher{}})
	defer c.Close()

	a, b := &fakeMedia{}, &fakeMedia{}
	require.NoError(t, c.OnVisibilityChange(a, true))
	require.NoError(t, c.OnVisibilityChange(a, false))

	assert.Equal(t, []string{"play", "pause"}, a.history())
	assert.Empty(t, b.history())
}

func TestOnVisibilityChange_IgnoredAfterClose(t *testing.T) {
	c := New(Config{Fetcher: &fakeFetcher{}})
	c.Close()

	m := &fakeMedia{}
	require.NoError(t, c.OnVisibilityChange(m, true))
	assert.Empty(t, m.history())
}

func TestWatch_DrivesPlaybackFromObserver(t *testing.T) {
	c := New(Config{Fetcher: &fakeFetcher{}})
	defer c.Close()

	obs := visibility.New(visibility.DefaultThreshold, 4)
	a, b := &fakeMedia{}, &fakeMedia{}
	obs.Observe("1", a)
	obs.Observe("2", b)

	done := make(chan struct{})
	go func() {
		c.Watch(context.Background(), obs.Events())
		close(done)
	}()

	ctx := context.Background()
	require.NoError(t, obs.Report(ctx, "1", 0.9))
	require.NoError(t, obs.Report(ctx, "1", 0.95))
	require.NoError(t, obs.Report(ctx, "1", 0.2))
	obs.Close()
	<-done

	assert.Equal(t, []string{"play", "pause"}, a.history())
	assert.Empty(t, b.history())
}
