package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/Keyring-Network/newslens/internal/extract"
	"github.com/Keyring-Network/newslens/internal/tabs"
)

var ErrTabNotFound = errors.New("tab not found")

// faviconScript returns the href of the first declared icon link, if any.
const faviconScript = `() => {
  const link = document.querySelector("link[rel~='icon']");
  return link && link.href ? link.href : "";
}`

// pageHandle is the part of playwright.Page the tab set needs.
type pageHandle interface {
	URL() string
	Title() (string, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// tabSet tracks open pages by a stable id and remembers which one the user
// touched last. The last focused page is the active tab.
type tabSet struct {
	mu     sync.Mutex
	pages  map[string]pageHandle
	focus  []string
	nextID int
}

func newTabSet() *tabSet {
	return &tabSet{pages: map[string]pageHandle{}}
}

// add registers page and focuses it. Registering a known page returns its id.
func (s *tabSet) add(page pageHandle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.pages {
		if existing == page {
			s.focusLocked(id)
			return id
		}
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.pages[id] = page
	s.focus = append(s.focus, id)
	return id
}

func (s *tabSet) remove(page pageHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.pages {
		if existing == page {
			delete(s.pages, id)
			s.dropFocusLocked(id)
			return
		}
	}
}

func (s *tabSet) setFocus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, id)
	}
	s.focusLocked(id)
	return nil
}

func (s *tabSet) focusLocked(id string) {
	s.dropFocusLocked(id)
	s.focus = append(s.focus, id)
}

func (s *tabSet) dropFocusLocked(id string) {
	for i, candidate := range s.focus {
		if candidate == id {
			s.focus = append(s.focus[:i], s.focus[i+1:]...)
			return
		}
	}
}

func (s *tabSet) get(id string) (pageHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[id]
	return page, ok
}

func (s *tabSet) active() (string, pageHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.focus) == 0 {
		return "", nil, false
	}
	id := s.focus[len(s.focus)-1]
	return id, s.pages[id], true
}

func (s *tabSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// ActiveTab implements tabs.TabQuerier.
func (s *tabSet) ActiveTab(ctx context.Context) (tabs.Tab, error) {
	if err := ctx.Err(); err != nil {
		return tabs.Tab{}, err
	}
	id, page, ok := s.active()
	if !ok {
		return tabs.Tab{}, tabs.ErrNoActiveTab
	}
	pageURL := page.URL()
	title, _ := page.Title()
	return tabs.Tab{
		ID:         id,
		URL:        pageURL,
		Title:      title,
		FavIconURL: favicon(page, pageURL),
	}, nil
}

// ExtractPageText implements extract.PageReader.
func (s *tabSet) ExtractPageText(ctx context.Context, tabID string) (extract.Page, error) {
	if err := ctx.Err(); err != nil {
		return extract.Page{}, err
	}
	page, ok := s.get(tabID)
	if !ok {
		return extract.Page{}, fmt.Errorf("%w: %w: %s", extract.ErrScriptInjectionFailed, ErrTabNotFound, tabID)
	}
	raw, err := page.Evaluate(extract.ProbeScript)
	if err != nil {
		return extract.Page{}, fmt.Errorf("%w: %w", extract.ErrScriptInjectionFailed, err)
	}
	return decodeProbe(raw)
}

func decodeProbe(raw interface{}) (extract.Page, error) {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return extract.Page{}, fmt.Errorf("%w: unexpected probe result %T", extract.ErrScriptInjectionFailed, raw)
	}
	title, _ := fields["title"].(string)
	text, _ := fields["innerText"].(string)
	source, _ := fields["source"].(string)
	return extract.Page{Title: title, Text: text, Source: source}, nil
}

func favicon(page pageHandle, pageURL string) string {
	if raw, err := page.Evaluate(faviconScript); err == nil {
		if href, ok := raw.(string); ok && href != "" {
			return href
		}
	}
	return defaultFavicon(pageURL)
}

// defaultFavicon is the conventional /favicon.ico at the page origin.
func defaultFavicon(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host + "/favicon.ico"
}
