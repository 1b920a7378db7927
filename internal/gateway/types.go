package gateway

// BiasRecord is a publisher-level credibility rating, passed through verbatim
// from the backend's bias dataset.
type BiasRecord struct {
	Name             string `json:"name"`
	SourceURL        string `json:"mbfc_url"`
	Domain           string `json:"domain"`
	Bias             string `json:"bias"`
	FactualReporting string `json:"factual_reporting"`
	Country          string `json:"country"`
	Credibility      string `json:"credibility"`
}

type RelatedArticle struct {
	CleanURL string      `json:"clean_url"`
	Title    string      `json:"title"`
	Excerpt  string      `json:"excerpt"`
	Summary  string      `json:"summary,omitempty"`
	Link     string      `json:"link"`
	Media    string      `json:"media"`
	Bias     *BiasRecord `json:"mbfc,omitempty"`
}

type RelatedArticleSet []RelatedArticle

// Clone returns a deep copy so cached sets cannot be mutated through a caller's slice.
func (s RelatedArticleSet) Clone() RelatedArticleSet {
	if s == nil {
		return nil
	}
	out := make(RelatedArticleSet, len(s))
	for i, article := range s {
		out[i] = article
		if article.Bias != nil {
			bias := *article.Bias
			out[i].Bias = &bias
		}
	}
	return out
}

type biasRequest struct {
	Domain string `json:"domain"`
}

type biasResponse struct {
	Data []BiasRecord `json:"data"`
}

type relatedRequest struct {
	Title     string `json:"title"`
	InnerText string `json:"innerText"`
	Domain    string `json:"domain"`
}

type relatedResponse struct {
	Data RelatedArticleSet `json:"data"`
}
