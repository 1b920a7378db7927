package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Keyring-Network/newslens/internal/classify"
	"github.com/Keyring-Network/newslens/internal/events"
	"github.com/Keyring-Network/newslens/internal/extract"
	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/store"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

// User-facing bias failure strings. The popup has no separate error channel:
// a string in place of a record is the failure signal.
const (
	MessageNoURL      = "No URL found for the current tab"
	MessageNoBiasData = "No bias data available for this domain"
	MessageServer     = "Server error"
	MessageTabChanged = "The active tab changed before the result arrived"
)

var (
	ErrNotAnArticle = errors.New("active tab is not an article")
	ErrStaleResult  = errors.New("active tab changed while the request was in flight")
)

type TabResolver interface {
	ResolveActiveTab(ctx context.Context) (tabs.Context, error)
}

type ContentExtractor interface {
	Extract(ctx context.Context, tabID string) (extract.Page, error)
}

type Backend interface {
	FetchBias(ctx context.Context, domain string) (gateway.BiasRecord, error)
	FetchRelatedArticles(ctx context.Context, title string, text string, domain string) (gateway.RelatedArticleSet, error)
}

type Publisher interface {
	Publish(result events.Result)
}

type Deps struct {
	Tabs      TabResolver
	Extractor ContentExtractor
	Backend   Backend
	Cache     store.Store
	Publisher Publisher
	IsArticle func(url string) bool
	Logger    *slog.Logger
}

// Controller coordinates one request at a time. It holds no durable state:
// the cache is the only thing that outlives a request.
type Controller struct {
	tabs      TabResolver
	extractor ContentExtractor
	backend   Backend
	cache     store.Store
	publisher Publisher
	isArticle func(url string) bool
	logger    *slog.Logger
	newTrace  func() string
}

func New(deps Deps) *Controller {
	isArticle := deps.IsArticle
	if isArticle == nil {
		isArticle = classify.IsArticle
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		tabs:      deps.Tabs,
		extractor: deps.Extractor,
		backend:   deps.Backend,
		cache:     deps.Cache,
		publisher: deps.Publisher,
		isArticle: isArticle,
		logger:    logger,
		newTrace:  func() string { return uuid.New().String() },
	}
}

// Handlers returns the dispatch table entries served by the controller.
func (c *Controller) Handlers() map[events.Action]events.Handler {
	return map[events.Action]events.Handler{
		events.ActionCheckBias: func(ctx context.Context, req events.Request) error {
			return c.CheckBias(ctx, req).Err
		},
		events.ActionFetchRelatedArticles: func(ctx context.Context, req events.Request) error {
			return c.FetchRelatedArticles(ctx, req).Err
		},
	}
}

// Register installs the controller's handlers into a dispatcher.
func (c *Controller) Register(dispatcher *events.Dispatcher) error {
	for action, handler := range c.Handlers() {
		if err := dispatcher.Register(action, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) publish(req events.Request, result events.Result) {
	result.RequestID = req.RequestID
	result.TraceID = c.newTrace()
	if c.publisher != nil {
		c.publisher.Publish(result)
	}
}

// stillActive re-resolves the active tab at delivery time. A result is only
// applied if the tab it was dispatched for is still the active one.
func (c *Controller) stillActive(ctx context.Context, dispatched tabs.Context) bool {
	current, err := c.tabs.ResolveActiveTab(ctx)
	if err != nil {
		return false
	}
	return current.SameTab(dispatched)
}
