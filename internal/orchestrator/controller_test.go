package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/newslens/internal/events"
	"github.com/Keyring-Network/newslens/internal/extract"
	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/store/memory"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

type mockTabs struct {
	mock.Mock
}

func (m *mockTabs) ResolveActiveTab(ctx context.Context) (tabs.Context, error) {
	args := m.Called(ctx)
	return args.Get(0).(tabs.Context), args.Error(1)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, tabID string) (extract.Page, error) {
	args := m.Called(ctx, tabID)
	return args.Get(0).(extract.Page), args.Error(1)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) FetchBias(ctx context.Context, domain string) (gateway.BiasRecord, error) {
	args := m.Called(ctx, domain)
	return args.Get(0).(gateway.BiasRecord), args.Error(1)
}

func (m *mockBackend) FetchRelatedArticles(ctx context.Context, title string, text string, domain string) (gateway.RelatedArticleSet, error) {
	args := m.Called(ctx, title, text, domain)
	set, _ := args.Get(0).(gateway.RelatedArticleSet)
	return set, args.Error(1)
}

type recorder struct {
	mu      sync.Mutex
	results []events.Result
}

func (r *recorder) Publish(result events.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) all() []events.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Result(nil), r.results...)
}

var (
	articleTab = tabs.Context{
		TabID:      "1",
		URL:        "https://cnn.com/2024/05/01/politics/story",
		Domain:     "cnn.com",
		Title:      "Story",
		FaviconURL: "https://cnn.com/favicon.ico",
	}
	otherTab = tabs.Context{
		TabID:  "2",
		URL:    "https://bbc.co.uk/news/world-1",
		Domain: "bbc.co.uk",
	}
	aboutTab = tabs.Context{
		TabID:  "3",
		URL:    "https://example.com/about",
		Domain: "example.com",
	}
)

type fixture struct {
	tabs      *mockTabs
	extractor *mockExtractor
	backend   *mockBackend
	cache     *memory.MemoryStore
	published *recorder
	ctrl      *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tabs:      &mockTabs{},
		extractor: &mockExtractor{},
		backend:   &mockBackend{},
		cache:     memory.New(10),
		published: &recorder{},
	}
	f.ctrl = New(Deps{
		Tabs:      f.tabs,
		Extractor: f.extractor,
		Backend:   f.backend,
		Cache:     f.cache,
		Publisher: f.published,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	f.ctrl.newTrace = func() string { return "trace" }
	t.Cleanup(func() {
		f.tabs.AssertExpectations(t)
		f.extractor.AssertExpectations(t)
		f.backend.AssertExpectations(t)
	})
	return f
}

func TestCheckBias_DeliversRecordFromBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check_bias_data" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["domain"] != "cnn.com" {
			t.Errorf("unexpected domain %q", body["domain"])
		}
		_, _ = w.Write([]byte(`{"data":[{"name":"CNN","mbfc_url":"https://mbfc/cnn","domain":"cnn.com","bias":"left-center","factual_reporting":"mixed","credibility":"medium"}]}`))
	}))
	defer server.Close()

	resolver := &mockTabs{}
	resolver.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Twice()
	published := &recorder{}
	ctrl := New(Deps{
		Tabs:      resolver,
		Backend:   gateway.New(gateway.Config{BaseURL: server.URL}),
		Publisher: published,
	})

	out := ctrl.CheckBias(context.Background(), events.Request{Action: events.ActionCheckBias, RequestID: 7})
	require.NoError(t, out.Err)
	assert.Equal(t, StateDelivered, out.State)

	results := published.all()
	require.Len(t, results, 1)
	got := results[0]
	assert.Equal(t, events.ActionBiasResult, got.Action)
	assert.Equal(t, uint64(7), got.RequestID)
	assert.NotEmpty(t, got.TraceID)
	require.NotNil(t, got.Bias)
	assert.Equal(t, "left-center", got.Bias.Bias)
	assert.Equal(t, "https://mbfc/cnn", got.Bias.SourceURL)
	assert.Equal(t, "CNN", got.Publication)
	assert.Equal(t, "https://cnn.com/favicon.ico", got.FaviconURL)
	resolver.AssertExpectations(t)
}

func TestCheckBias_FailureMessages(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		message  string
		state    State
		sentinel error
	}{
		{
			name: "no tab",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(tabs.Context{}, tabs.ErrNoActiveTab).Once()
			},
			message:  MessageNoURL,
			state:    StateFailed,
			sentinel: tabs.ErrNoActiveTab,
		},
		{
			name: "no bias data",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Twice()
				f.backend.On("FetchBias", mock.Anything, "cnn.com").Return(gateway.BiasRecord{}, gateway.ErrNoBiasData).Once()
			},
			message:  MessageNoBiasData,
			state:    StateFailed,
			sentinel: gateway.ErrNoBiasData,
		},
		{
			name: "backend error",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Twice()
				f.backend.On("FetchBias", mock.Anything, "cnn.com").
					Return(gateway.BiasRecord{}, &gateway.BackendError{Op: "check bias", StatusCode: http.StatusInternalServerError}).Once()
			},
			message:  MessageServer,
			state:    StateFailed,
			sentinel: gateway.ErrBackendUnreachable,
		},
		{
			name: "tab changed after no data",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
				f.backend.On("FetchBias", mock.Anything, "cnn.com").Return(gateway.BiasRecord{}, gateway.ErrNoBiasData).Once()
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(otherTab, nil).Once()
			},
			message:  MessageTabChanged,
			state:    StateDiscarded,
			sentinel: ErrStaleResult,
		},
		{
			name: "tab changed after backend error",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
				f.backend.On("FetchBias", mock.Anything, "cnn.com").
					Return(gateway.BiasRecord{}, &gateway.BackendError{Op: "check bias", StatusCode: http.StatusBadGateway}).Once()
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(otherTab, nil).Once()
			},
			message:  MessageTabChanged,
			state:    StateDiscarded,
			sentinel: ErrStaleResult,
		},
		{
			name: "tab changed",
			setup: func(f *fixture) {
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
				f.backend.On("FetchBias", mock.Anything, "cnn.com").Return(gateway.BiasRecord{Name: "CNN"}, nil).Once()
				f.tabs.On("ResolveActiveTab", mock.Anything).Return(otherTab, nil).Once()
			},
			message:  MessageTabChanged,
			state:    StateDiscarded,
			sentinel: ErrStaleResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			out := f.ctrl.CheckBias(context.Background(), events.Request{Action: events.ActionCheckBias, RequestID: 1})
			assert.Equal(t, tt.state, out.State)
			require.ErrorIs(t, out.Err, tt.sentinel)

			results := f.published.all()
			require.Len(t, results, 1, "exactly one biasResult per request")
			assert.Equal(t, events.ActionBiasResult, results[0].Action)
			assert.Nil(t, results[0].Bias)
			assert.Equal(t, tt.message, results[0].BiasMessage)
			assert.Equal(t, uint64(1), results[0].RequestID)
		})
	}
}

func TestFetchRelatedArticles_NotAnArticle(t *testing.T) {
	f := newFixture(t)
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(aboutTab, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
	assert.Equal(t, StateRejected, out.State)
	require.ErrorIs(t, out.Err, ErrNotAnArticle)
	assert.Empty(t, f.published.all())
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestFetchRelatedArticles_NoTabIsSilent(t *testing.T) {
	f := newFixture(t)
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(tabs.Context{}, tabs.ErrNoActiveTab).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
	assert.Equal(t, StateRejected, out.State)
	assert.Empty(t, f.published.all())
}

func TestFetchRelatedArticles_CacheHitSkipsNetwork(t *testing.T) {
	f := newFixture(t)
	cached := gateway.RelatedArticleSet{{Title: "Cached", Link: "https://npr.org/cached"}}
	require.NoError(t, f.cache.Put(context.Background(), articleTab.URL, cached))
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles, RequestID: 4})
	require.NoError(t, out.Err)
	assert.Equal(t, StateDelivered, out.State)
	assert.True(t, out.CacheHit)

	results := f.published.all()
	require.Len(t, results, 1)
	assert.Equal(t, events.ActionRelatedArticles, results[0].Action)
	assert.Equal(t, cached, results[0].Articles)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	f.backend.AssertNotCalled(t, "FetchRelatedArticles", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchRelatedArticles_FetchesAndCaches(t *testing.T) {
	f := newFixture(t)
	page := extract.Page{Title: "Story", Text: "body text"}
	fetched := gateway.RelatedArticleSet{{Title: "Other take", Link: "https://npr.org/a", Media: "npr.org"}}

	f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Twice()
	f.extractor.On("Extract", mock.Anything, "1").Return(page, nil).Once()
	f.backend.On("FetchRelatedArticles", mock.Anything, "Story", "body text", "cnn.com").Return(fetched, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles, RequestID: 9})
	require.NoError(t, out.Err)
	assert.Equal(t, StateDelivered, out.State)
	assert.False(t, out.CacheHit)

	results := f.published.all()
	require.Len(t, results, 1)
	assert.Equal(t, fetched, results[0].Articles)
	assert.Equal(t, uint64(9), results[0].RequestID)

	cached, ok, err := f.cache.Get(context.Background(), articleTab.URL)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fetched, cached)
}

func TestFetchRelatedArticles_StaleResultDiscarded(t *testing.T) {
	f := newFixture(t)
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
	f.extractor.On("Extract", mock.Anything, "1").Return(extract.Page{Title: "Story", Text: "body"}, nil).Once()
	f.backend.On("FetchRelatedArticles", mock.Anything, "Story", "body", "cnn.com").
		Return(gateway.RelatedArticleSet{{Title: "late"}}, nil).Once()
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(otherTab, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
	assert.Equal(t, StateDiscarded, out.State)
	require.ErrorIs(t, out.Err, ErrStaleResult)
	assert.Empty(t, f.published.all())

	_, ok, err := f.cache.Get(context.Background(), articleTab.URL)
	require.NoError(t, err)
	assert.False(t, ok, "stale result must not be cached")
}

func TestFetchRelatedArticles_SameTabNavigatedIsStale(t *testing.T) {
	f := newFixture(t)
	navigated := articleTab
	navigated.URL = "https://cnn.com/2024/05/02/world/another"

	f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
	f.extractor.On("Extract", mock.Anything, "1").Return(extract.Page{Title: "Story"}, nil).Once()
	f.backend.On("FetchRelatedArticles", mock.Anything, "Story", "", "cnn.com").Return(gateway.RelatedArticleSet{}, nil).Once()
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(navigated, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
	assert.Equal(t, StateDiscarded, out.State)
	assert.Empty(t, f.published.all())
}

func TestFetchRelatedArticles_FailuresSurfaceAsEmptySet(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "extraction",
			setup: func(f *fixture) {
				f.extractor.On("Extract", mock.Anything, "1").
					Return(extract.Page{}, extract.ErrScriptInjectionFailed).Once()
			},
		},
		{
			name: "backend",
			setup: func(f *fixture) {
				f.extractor.On("Extract", mock.Anything, "1").Return(extract.Page{Title: "Story"}, nil).Once()
				f.backend.On("FetchRelatedArticles", mock.Anything, "Story", "", "cnn.com").
					Return(nil, errors.Join(gateway.ErrBackendUnreachable, errors.New("connection refused"))).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Twice()
			tt.setup(f)

			out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
			assert.Equal(t, StateFailed, out.State)
			require.Error(t, out.Err)

			results := f.published.all()
			require.Len(t, results, 1)
			assert.Equal(t, events.ActionRelatedArticles, results[0].Action)
			assert.Empty(t, results[0].Articles)

			n, err := f.cache.Len(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n, "failures are never cached")
		})
	}
}

func TestFetchRelatedArticles_FailureAfterTabSwitchIsSilent(t *testing.T) {
	f := newFixture(t)
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(articleTab, nil).Once()
	f.extractor.On("Extract", mock.Anything, "1").Return(extract.Page{}, extract.ErrScriptInjectionFailed).Once()
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(otherTab, nil).Once()

	out := f.ctrl.FetchRelatedArticles(context.Background(), events.Request{Action: events.ActionFetchRelatedArticles})
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, f.published.all())
}

func TestRegister_DispatchesThroughTable(t *testing.T) {
	f := newFixture(t)
	f.tabs.On("ResolveActiveTab", mock.Anything).Return(tabs.Context{}, tabs.ErrNoActiveTab).Twice()

	dispatcher := events.NewDispatcher()
	require.NoError(t, f.ctrl.Register(dispatcher))
	require.Error(t, f.ctrl.Register(dispatcher), "duplicate registration")

	err := dispatcher.Dispatch(context.Background(), dispatcher.Stamp(events.Request{Action: events.ActionCheckBias}))
	require.ErrorIs(t, err, tabs.ErrNoActiveTab)
	err = dispatcher.Dispatch(context.Background(), dispatcher.Stamp(events.Request{Action: events.ActionFetchRelatedArticles}))
	require.ErrorIs(t, err, tabs.ErrNoActiveTab)

	results := f.published.all()
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].RequestID)
	assert.Equal(t, "trace", results[0].TraceID)
}
