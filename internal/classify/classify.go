package classify

import (
	"net/url"
	"regexp"
	"strings"
)

// Rule is one URL-shape heuristic. Patterns are matched against the URL path
// only, so a keyword in the host or query string never marks a page as an
// article.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

var rules = []Rule{
	{Name: "keyword", Pattern: regexp.MustCompile(`(?i)/(news|article|story|post|20\d{2})`)},
	{Name: "date", Pattern: regexp.MustCompile(`/\d{4}/\d{2}/\d{2}(/|$)`)},
	{Name: "section", Pattern: regexp.MustCompile(`(?i)/(politics|world|health|science|technology|sports|opinion|entertainment)`)},
}

// Rules returns the heuristics in evaluation order.
func Rules() []Rule {
	return append([]Rule{}, rules...)
}

// IsArticle decides from URL shape alone whether rawURL is likely a news
// article. False positives and false negatives are accepted.
func IsArticle(rawURL string) bool {
	_, ok := MatchRule(rawURL)
	return ok
}

// MatchRule returns the name of the first rule matching rawURL.
func MatchRule(rawURL string) (string, bool) {
	path, ok := urlPath(rawURL)
	if !ok {
		return "", false
	}
	for _, rule := range rules {
		if rule.Pattern.MatchString(path) {
			return rule.Name, true
		}
	}
	return "", false
}

func urlPath(rawURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	path := parsed.EscapedPath()
	if path == "" || path == "/" {
		return "", false
	}
	return path, true
}
