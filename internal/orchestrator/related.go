package orchestrator

import (
	"context"
	"fmt"

	"github.com/Keyring-Network/newslens/internal/events"
	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

// FetchRelatedArticles delivers related coverage for the active tab.
// Non-article pages and missing tabs end silently. A cached set for the URL
// is served without extraction or a backend call. Extraction and backend
// failures surface as an empty set and are never cached. A result whose tab
// is no longer active on completion is dropped without a cache write.
func (c *Controller) FetchRelatedArticles(ctx context.Context, req events.Request) Outcome {
	s := c.begin(req)

	s.enter(ctx, StateResolvingTab)
	tab, err := c.tabs.ResolveActiveTab(ctx)
	if err != nil {
		return s.finish(ctx, StateRejected, err)
	}

	s.enter(ctx, StateCheckingArticleEligibility)
	if !c.isArticle(tab.URL) {
		return s.finish(ctx, StateRejected, fmt.Errorf("%w: %s", ErrNotAnArticle, tab.URL))
	}

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, tab.URL)
		if err != nil {
			c.logger.WarnContext(ctx, "related articles cache read failed",
				"request_id", req.RequestID, "url", tab.URL, "error", err)
		} else if ok {
			c.publish(req, events.RelatedArticlesResult(cached))
			out := s.finish(ctx, StateDelivered, nil)
			out.CacheHit = true
			return out
		}
	}

	s.enter(ctx, StateExtracting)
	page, err := c.extractor.Extract(ctx, tab.TabID)
	if err != nil {
		return c.failRelated(ctx, s, req, tab, err)
	}

	s.enter(ctx, StateQueryingBackend)
	articles, err := c.backend.FetchRelatedArticles(ctx, page.Title, page.Text, tab.Domain)
	if err != nil {
		return c.failRelated(ctx, s, req, tab, err)
	}

	if !c.stillActive(ctx, tab) {
		return s.finish(ctx, StateDiscarded, ErrStaleResult)
	}

	s.enter(ctx, StateCachingResult)
	if c.cache != nil {
		if err := c.cache.Put(ctx, tab.URL, articles); err != nil {
			c.logger.WarnContext(ctx, "related articles cache write failed",
				"request_id", req.RequestID, "url", tab.URL, "error", err)
		}
	}

	c.publish(req, events.RelatedArticlesResult(articles))
	return s.finish(ctx, StateDelivered, nil)
}

// failRelated reports an extraction or backend failure to the popup as an
// empty set, unless the tab has moved on in the meantime.
func (c *Controller) failRelated(ctx context.Context, s *step, req events.Request, tab tabs.Context, cause error) Outcome {
	if c.stillActive(ctx, tab) {
		c.publish(req, events.RelatedArticlesResult(gateway.RelatedArticleSet{}))
	}
	return s.finish(ctx, StateFailed, cause)
}
