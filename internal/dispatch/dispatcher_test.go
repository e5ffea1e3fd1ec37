package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromate/internal/domain"
)

func TestDispatchScroll(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		domain.DirectionUp:   -0.8,
		domain.DirectionDown: 0.8,
		"sideways":           0.8,
		"":                   0.8,
	}
	for direction, want := range cases {
		page := &fakePage{}
		d := NewDispatcher(page, Config{}, nil)
		require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionScroll, Direction: direction}))
		assert.Equal(t, []float64{want}, page.scrolls, "direction %q", direction)
		assert.Equal(t, []string{"scroll"}, page.calls)
	}
}

func TestDispatchOpenNavigatesOnce(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	d := NewDispatcher(page, Config{}, nil)
	require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionOpen, URL: "https://naver.com"}))
	assert.Equal(t, []string{"https://naver.com"}, page.navigations)
	assert.Empty(t, page.tabs)

	tabbed := &fakePage{}
	d = NewDispatcher(tabbed, Config{OpenInNewTab: true}, nil)
	require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionOpen, URL: "https://naver.com"}))
	assert.Equal(t, []string{"https://naver.com"}, tabbed.tabs)
	assert.Empty(t, tabbed.navigations)
}

func TestDispatchSearchEncodesQuery(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	d := NewDispatcher(page, Config{}, nil)
	require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionSearch, Query: "오늘 날씨 & 1+1"}))
	require.Len(t, page.navigations, 1)
	assert.Equal(t,
		"https://www.google.com/search?q=%EC%98%A4%EB%8A%98%20%EB%82%A0%EC%94%A8%20%26%201%2B1",
		page.navigations[0],
	)
}

func TestDispatchHistoryFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	page := &fakePage{err: errors.New("no history")}
	d := NewDispatcher(page, Config{}, nil)
	assert.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionBackward}))
	assert.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionForward}))
	assert.Equal(t, []string{"back", "forward"}, page.calls)
}

func TestDispatchOtherFailuresPropagate(t *testing.T) {
	t.Parallel()

	page := &fakePage{err: errors.New("target closed")}
	d := NewDispatcher(page, Config{}, nil)
	assert.Error(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionRefresh}))
	assert.Error(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionClose}))
}

func TestDispatchZoom(t *testing.T) {
	t.Parallel()

	page := &fakePage{zoom: 1.0}
	d := NewDispatcher(page, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, domain.Action{Kind: domain.ActionZoom, Direction: domain.DirectionIn}))
	assert.InDelta(t, 1.3, page.zoom, 1e-9)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(ctx, domain.Action{Kind: domain.ActionZoom, Direction: domain.DirectionOut}))
	}
	assert.InDelta(t, MinZoom, page.zoom, 1e-9)

	require.NoError(t, d.Dispatch(ctx, domain.Action{Kind: domain.ActionReset}))
	assert.InDelta(t, DefaultZoom, page.zoom, 1e-9)
}

func TestNextZoom(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.3, NextZoom(1.0, domain.DirectionIn), 1e-9)
	assert.InDelta(t, 0.7, NextZoom(1.0, domain.DirectionOut), 1e-9)
	assert.InDelta(t, 0.3, NextZoom(0.4, domain.DirectionOut), 1e-9)
	assert.InDelta(t, 1.3, NextZoom(0, domain.DirectionIn), 1e-9)
}

func TestDispatchClick(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	d := NewDispatcher(page, Config{}, nil)
	require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionClick}))
	assert.Equal(t, 0, page.clicks)

	page.hovered = true
	require.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionClick}))
	assert.Equal(t, 1, page.clicks)
}

func TestDispatchUnknownAndNoneAreNoOps(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	d := NewDispatcher(page, Config{}, nil)
	assert.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: "dance"}))
	assert.NoError(t, d.Dispatch(context.Background(), domain.Action{Kind: domain.ActionNone}))
	assert.Empty(t, page.calls)
}

type fakePage struct {
	mu sync.Mutex

	err         error
	calls       []string
	scrolls     []float64
	navigations []string
	tabs        []string
	zoom        float64
	hovered     bool
	clicks      int
}

func (f *fakePage) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakePage) ScrollBy(_ context.Context, fraction float64) error {
	f.mu.Lock()
	f.scrolls = append(f.scrolls, fraction)
	f.mu.Unlock()
	return f.record("scroll")
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.navigations = append(f.navigations, url)
	f.mu.Unlock()
	return f.record("navigate")
}

func (f *fakePage) OpenTab(_ context.Context, url string) error {
	f.mu.Lock()
	f.tabs = append(f.tabs, url)
	f.mu.Unlock()
	return f.record("open_tab")
}

func (f *fakePage) Back(_ context.Context) error    { return f.record("back") }
func (f *fakePage) Forward(_ context.Context) error { return f.record("forward") }
func (f *fakePage) Reload(_ context.Context) error  { return f.record("reload") }
func (f *fakePage) Close(_ context.Context) error   { return f.record("close") }

func (f *fakePage) Zoom(_ context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom, nil
}

func (f *fakePage) SetZoom(_ context.Context, level float64) error {
	f.mu.Lock()
	f.zoom = level
	f.mu.Unlock()
	return f.record("set_zoom")
}

func (f *fakePage) ClickHovered(_ context.Context) (bool, error) {
	if err := f.record("click"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hovered {
		return false, nil
	}
	f.clicks++
	return true, nil
}
