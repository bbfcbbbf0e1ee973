package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"nutriscan/internal/capture"
	"nutriscan/internal/lookup"
	"nutriscan/internal/models"
	"nutriscan/internal/notify"
	"nutriscan/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubPresenter struct {
	mu    sync.Mutex
	shown []models.NutritionRecord
}

func (s *stubPresenter) Show(r models.NutritionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown = append(s.shown, r)
}

func (s *stubPresenter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shown)
}

type failingHistory struct{ storage.HistoryStore }

func (failingHistory) Append(context.Context, models.ScanResult) error {
	return errors.New("disk on fire")
}

type fixture struct {
	pipeline  *Pipeline
	history   storage.HistoryStore
	presenter *stubPresenter
	notes     *notify.Recorder
}

func newFixture(t *testing.T, l lookup.Lookup, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		history:   storage.NewMemoryHistory(),
		presenter: &stubPresenter{},
		notes:     &notify.Recorder{},
	}
	f.pipeline = NewPipeline(l, f.history, f.presenter, f.notes, opts...)
	return f
}

func historyLen(t *testing.T, h storage.HistoryStore) int {
	t.Helper()
	list, err := h.List(context.Background())
	require.NoError(t, err)
	return len(list)
}

func TestSubmitManualAppendsHead(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	ctx := context.Background()

	_, err := f.pipeline.SubmitManual(ctx, "4006381333931")
	require.NoError(t, err)
	before := historyLen(t, f.history)

	res, err := f.pipeline.SubmitManual(ctx, "1234567890123")
	require.NoError(t, err)

	list, err := f.history.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, before+1)
	assert.Equal(t, "1234567890123", list[0].Barcode)
	assert.Equal(t, res.ID, list[0].ID)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, models.SourceManual, res.Source)
	assert.Equal(t, models.ScoreB, res.NutritionScore)
	assert.Equal(t, models.StatusModerate, res.Recommendation)
	assert.Equal(t, 2, f.presenter.count())
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	var calls atomic.Int32
	l := lookup.Func(func(ctx context.Context, code string) (models.NutritionRecord, error) {
		calls.Add(1)
		return lookup.Placeholder{}.Lookup(ctx, code)
	})
	f := newFixture(t, l)

	for _, in := range []string{"", "   ", "\t\n"} {
		_, err := f.pipeline.SubmitManual(context.Background(), in)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}

	assert.Zero(t, historyLen(t, f.history))
	assert.Zero(t, f.presenter.count())
	assert.Zero(t, calls.Load())
	assert.Zero(t, f.notes.Len())
}

func TestSubmitTrimsInput(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	res, err := f.pipeline.SubmitManual(context.Background(), "  987  ")
	require.NoError(t, err)
	assert.Equal(t, "987", res.Barcode)
}

func TestSubmitUsesInjectedLookup(t *testing.T) {
	f := newFixture(t, lookup.DemoCatalog(lookup.Placeholder{}))
	ctx := context.Background()

	res, err := f.pipeline.SubmitManual(ctx, "1234567890123")
	require.NoError(t, err)
	assert.Equal(t, "Organic Whole Grain Cereal", res.ProductName)
	assert.Equal(t, models.ScoreA, res.NutritionScore)
	assert.Equal(t, []string{"Gluten", "May contain nuts"}, res.Allergens)

	res, err = f.pipeline.SubmitManual(ctx, "5901234123457")
	require.NoError(t, err)
	assert.Equal(t, "Scanned Product #3457", res.ProductName)
}

func TestSubmitKeepsScannedBarcode(t *testing.T) {
	// A catalog keyed on EAN-13 answers a 12 digit UPC-A scan.
	l := lookup.Func(func(ctx context.Context, code string) (models.NutritionRecord, error) {
		r, err := lookup.Placeholder{}.Lookup(ctx, code)
		r.Barcode = "0" + code
		return r, err
	})
	f := newFixture(t, l)

	res, err := f.pipeline.SubmitManual(context.Background(), " 123456789012 ")
	require.NoError(t, err)
	assert.Equal(t, "123456789012", res.Barcode)

	list, err := f.history.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "123456789012", list[0].Barcode)

	f.presenter.mu.Lock()
	defer f.presenter.mu.Unlock()
	require.Len(t, f.presenter.shown, 1)
	assert.Equal(t, "123456789012", f.presenter.shown[0].Barcode)
}

func TestSubmitRejectsInvalidRecord(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.NutritionRecord)
	}{
		{"score", func(r *models.NutritionRecord) { r.NutritionScore = "Z" }},
		{"status", func(r *models.NutritionRecord) { r.Recommendation.Status = "delicious" }},
		{"calories", func(r *models.NutritionRecord) { r.Calories = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := lookup.Func(func(ctx context.Context, code string) (models.NutritionRecord, error) {
				r, err := lookup.Placeholder{}.Lookup(ctx, code)
				tt.mutate(&r)
				return r, err
			})
			f := newFixture(t, l)

			_, err := f.pipeline.SubmitManual(context.Background(), "4006381333931")
			assert.ErrorIs(t, err, models.ErrInvalidRecord)
			assert.Zero(t, historyLen(t, f.history))
			assert.Zero(t, f.presenter.count())
		})
	}
}

func TestSubmitNotFoundLeavesHistoryUntouched(t *testing.T) {
	f := newFixture(t, lookup.DemoCatalog(nil))

	_, err := f.pipeline.SubmitManual(context.Background(), "000")
	require.Error(t, err)
	assert.ErrorIs(t, err, lookup.ErrNotFound)
	assert.Zero(t, historyLen(t, f.history))
	assert.Zero(t, f.presenter.count())

	notes := f.notes.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Product Not Found", notes[0].Title)
}

func TestSubmitAppendFailureSkipsDisplay(t *testing.T) {
	presenter := &stubPresenter{}
	p := NewPipeline(lookup.Placeholder{}, failingHistory{storage.NewMemoryHistory()}, presenter, nil)

	_, err := p.SubmitManual(context.Background(), "123")
	require.Error(t, err)
	assert.Zero(t, presenter.count())
}

func TestSubmitCancelledDuringLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := lookup.Func(func(_ context.Context, code string) (models.NutritionRecord, error) {
		cancel()
		return lookup.Placeholder{}.Lookup(context.Background(), code)
	})
	f := newFixture(t, l)

	_, err := f.pipeline.Submit(ctx, "123", models.SourceCamera)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, historyLen(t, f.history))
	assert.Zero(t, f.presenter.count())
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	ticks := []time.Duration{0, 5 * time.Second, 2 * time.Second, 2 * time.Second, 10 * time.Second}
	var i int
	clock := func() time.Time {
		ts := base.Add(ticks[i])
		i++
		return ts
	}
	f := newFixture(t, lookup.Placeholder{}, WithClock(clock))

	for n := range ticks {
		_, err := f.pipeline.SubmitManual(context.Background(), fmt.Sprintf("code-%d", n))
		require.NoError(t, err)
	}

	list, err := f.history.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, len(ticks))
	for j := 1; j < len(list); j++ {
		assert.False(t, list[j-1].Timestamp.Before(list[j].Timestamp),
			"entry %d (%s) is older than entry %d (%s)", j-1, list[j-1].Timestamp, j, list[j].Timestamp)
	}
	assert.Equal(t, "code-4", list[0].Barcode)
}

func TestIDsAreUnique(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	seen := map[string]bool{}
	for n := 0; n < 50; n++ {
		res, err := f.pipeline.SubmitManual(context.Background(), "42")
		require.NoError(t, err)
		require.False(t, seen[res.ID])
		seen[res.ID] = true
	}
}

func TestWithIDs(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{}, WithIDs(func() string { return "fixed" }))
	res, err := f.pipeline.SubmitManual(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.ID)
}

func TestConcurrentSubmitsKeepOrdering(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	var wg sync.WaitGroup
	for n := 0; n < 25; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.pipeline.SubmitManual(context.Background(), fmt.Sprint(n))
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	list, err := f.pipeline.History(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 25)
	for j := 1; j < len(list); j++ {
		assert.False(t, list[j-1].Timestamp.Before(list[j].Timestamp))
	}
}

func TestCameraPathMatchesManualContract(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	dev := capture.NewSyntheticDevice()
	session := capture.NewSession(dev, capture.NewSyntheticSurface(), f.notes,
		capture.WithScanDelay(5*time.Millisecond),
		capture.WithCodeSource(func() string { return "555000111222" }))
	defer session.Close()

	require.NoError(t, session.Open(context.Background()))
	require.True(t, session.CaptureAndScan(f.pipeline.CameraCallback()))

	require.Eventually(t, func() bool { return historyLen(t, f.history) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return session.State() == capture.StateClosed }, time.Second, 5*time.Millisecond)

	list, err := f.history.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "555000111222", list[0].Barcode)
	assert.Equal(t, models.SourceCamera, list[0].Source)
	assert.Equal(t, 1, f.presenter.count())
	assert.Equal(t, 0, dev.LiveTracks())
}

func TestClosingSessionBeforeDelayDropsScan(t *testing.T) {
	f := newFixture(t, lookup.Placeholder{})
	session := capture.NewSession(capture.NewSyntheticDevice(), capture.NewSyntheticSurface(), f.notes,
		capture.WithScanDelay(40*time.Millisecond))

	require.NoError(t, session.Open(context.Background()))
	require.True(t, session.CaptureAndScan(f.pipeline.CameraCallback()))
	session.Close()

	time.Sleep(120 * time.Millisecond)
	assert.Zero(t, historyLen(t, f.history))
	assert.Zero(t, f.presenter.count())
}
