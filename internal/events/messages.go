package events

import (
	"encoding/json"
	"strings"

	"github.com/Keyring-Network/newslens/internal/gateway"
)

type Action string

const (
	ActionCheckBias            Action = "checkBias"
	ActionFetchRelatedArticles Action = "fetchRelatedArticles"
	ActionBiasResult           Action = "biasResult"
	ActionRelatedArticles      Action = "relatedArticles"
)

// Request is a popup-to-orchestrator message. It carries no tab context:
// the orchestrator derives that from the live active tab.
type Request struct {
	Action    Action `json:"action"`
	RequestID uint64 `json:"request_id,omitempty"`
}

// Result is an orchestrator-to-popup broadcast. A bias result carries either
// a record or a human-readable failure string; the popup tells them apart by
// the JSON type of "bias".
type Result struct {
	Action      Action
	RequestID   uint64
	TraceID     string
	Bias        *gateway.BiasRecord
	BiasMessage string
	Publication string
	FaviconURL  string
	Articles    gateway.RelatedArticleSet
}

func BiasResult(record gateway.BiasRecord, faviconURL string) Result {
	return Result{
		Action:      ActionBiasResult,
		Bias:        &record,
		Publication: record.Name,
		FaviconURL:  faviconURL,
	}
}

func BiasFailure(message string) Result {
	return Result{Action: ActionBiasResult, BiasMessage: message}
}

func RelatedArticlesResult(articles gateway.RelatedArticleSet) Result {
	if articles == nil {
		articles = gateway.RelatedArticleSet{}
	}
	return Result{Action: ActionRelatedArticles, Articles: articles}
}

type articlesEnvelope struct {
	Data gateway.RelatedArticleSet `json:"data"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"action": r.Action}
	if r.RequestID != 0 {
		out["request_id"] = r.RequestID
	}
	if r.TraceID != "" {
		out["trace_id"] = r.TraceID
	}
	switch r.Action {
	case ActionBiasResult:
		if r.Bias != nil {
			out["bias"] = r.Bias
			out["publication"] = r.Publication
			out["faviconUrl"] = r.FaviconURL
		} else {
			out["bias"] = r.BiasMessage
		}
	case ActionRelatedArticles:
		articles := r.Articles
		if articles == nil {
			articles = gateway.RelatedArticleSet{}
		}
		out["articles"] = articlesEnvelope{Data: articles}
	}
	return json.Marshal(out)
}

func NormalizeAction(action string) Action {
	trimmed := strings.TrimSpace(action)
	switch strings.ToLower(trimmed) {
	case strings.ToLower(string(ActionCheckBias)):
		return ActionCheckBias
	case strings.ToLower(string(ActionFetchRelatedArticles)):
		return ActionFetchRelatedArticles
	}
	return Action(trimmed)
}
