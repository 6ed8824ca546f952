// Package verifier looks up encyclopedia sources for a query so answers
// can cite something independently checkable. Every failure degrades to
// an empty result; verification is an enrichment, never a gate.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	maxResults   = 3
	snippetChars = 200
)

// Source mirrors the sources entries in chat responses.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Verifier struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Verify searches wikipedia for the query and returns up to three
// sources with short snippets.
func (v *Verifier) Verify(ctx context.Context, query string) []Source {
	titles, urls, err := v.search(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("source verification degraded to empty")
		return nil
	}

	var sources []Source
	for i, title := range titles {
		if len(sources) == maxResults {
			break
		}
		snippet, err := v.summary(ctx, title)
		if err != nil {
			continue
		}
		pageURL := ""
		if i < len(urls) {
			pageURL = urls[i]
		}
		sources = append(sources, Source{Title: title, URL: pageURL, Snippet: snippet})
	}
	return sources
}

// search uses the opensearch action API; the response is a positional
// JSON array: [query, titles, descriptions, urls].
func (v *Verifier) search(ctx context.Context, query string) (titles, urls []string, err error) {
	endpoint := fmt.Sprintf("%s/w/api.php?action=opensearch&format=json&limit=%d&search=%s",
		v.baseURL, maxResults, url.QueryEscape(query))
	var payload []json.RawMessage
	if err := v.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, nil, err
	}
	if len(payload) < 4 {
		return nil, nil, fmt.Errorf("unexpected opensearch shape: %d elements", len(payload))
	}
	if err := json.Unmarshal(payload[1], &titles); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(payload[3], &urls); err != nil {
		return nil, nil, err
	}
	return titles, urls, nil
}

func (v *Verifier) summary(ctx context.Context, title string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/rest_v1/page/summary/%s", v.baseURL, url.PathEscape(title))
	var payload struct {
		Extract string `json:"extract"`
	}
	if err := v.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}
	runes := []rune(payload.Extract)
	if len(runes) > snippetChars {
		runes = runes[:snippetChars]
	}
	return string(runes), nil
}

func (v *Verifier) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "AskPro/1.0")
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
