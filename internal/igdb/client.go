// Package igdb is a minimal client for the IGDB v4 API: one token exchange
// per pipeline run and batched multiquery lookups.
package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTokenURL is Twitch's client-credentials token endpoint.
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"
	// DefaultAPIURL is the IGDB multiquery endpoint.
	DefaultAPIURL = "https://api.igdb.com/v4/multiquery"

	// MaxBatch is the largest number of aliased subqueries per multiquery.
	MaxBatch = 10
)

// Config configures the client. TokenURL and APIURL default to the public
// endpoints; tests point them at local servers.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIURL       string
}

// Client talks to IGDB. It is safe for concurrent use; the bearer token is
// acquired once per run via Authenticate.
type Client struct {
	cfg  Config
	http *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client. Missing credentials are allowed: Enabled reports
// false and the pipeline runs scrape-only.
func New(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether provider credentials are configured.
func (c *Client) Enabled() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// Authenticate exchanges the client credentials for a bearer token and
// caches it for the run.
func (c *Client) Authenticate(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("igdb credentials not configured")
	}

	q := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("token response carried no access_token")
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.mu.Unlock()
	return nil
}

// Hit is one IGDB game result.
type Hit struct {
	Name              string  `json:"name"`
	Summary           string  `json:"summary"`
	Rating            float64 `json:"rating"`
	FirstReleaseDate  int64   `json:"first_release_date"`
	InvolvedCompanies []struct {
		Company struct {
			Name string `json:"name"`
		} `json:"company"`
	} `json:"involved_companies"`
	Genres []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Cover *struct {
		URL string `json:"url"`
	} `json:"cover"`
	Screenshots []struct {
		URL string `json:"url"`
	} `json:"screenshots"`
}

// hitFields is the field set requested per subquery.
const hitFields = "name, summary, rating, first_release_date, " +
	"involved_companies.company.name, genres.name, cover.url, screenshots.url"

// BatchLookup sends one multiquery with an aliased subquery per name
// (at most MaxBatch) and correlates results back by alias index. The
// returned map holds an entry only for inputs that produced a hit.
func (c *Client) BatchLookup(ctx context.Context, names []string) (map[int]*Hit, error) {
	if len(names) == 0 {
		return map[int]*Hit{}, nil
	}
	if len(names) > MaxBatch {
		return nil, fmt.Errorf("batch of %d exceeds the multiquery limit of %d", len(names), MaxBatch)
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return nil, fmt.Errorf("not authenticated")
	}

	var body strings.Builder
	for i, name := range names {
		fmt.Fprintf(&body, "query games \"q_%d\" {\n", i)
		fmt.Fprintf(&body, "  fields %s;\n", hitFields)
		fmt.Fprintf(&body, "  where name ~ %s*;\n", quoteIGDB(name))
		body.WriteString("  sort popularity desc;\n")
		body.WriteString("  limit 1;\n")
		body.WriteString("};\n")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, strings.NewReader(body.String()))
	if err != nil {
		return nil, fmt.Errorf("build multiquery request: %w", err)
	}
	req.Header.Set("Client-ID", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("multiquery request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("multiquery: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var entries []struct {
		Name   string            `json:"name"`
		Result []json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode multiquery response: %w", err)
	}

	hits := make(map[int]*Hit, len(entries))
	for _, e := range entries {
		idx, ok := aliasIndex(e.Name)
		if !ok || idx < 0 || idx >= len(names) || len(e.Result) == 0 {
			continue
		}
		var h Hit
		if err := json.Unmarshal(e.Result[0], &h); err != nil {
			// Malformed entry maps to "no hit" for that input.
			continue
		}
		hits[idx] = &h
	}
	return hits, nil
}

// quoteIGDB escapes a game name for an Apicalypse string literal.
func quoteIGDB(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, `"`, `\"`)
	return `"` + name + `"`
}

// aliasIndex extracts i from "q_i".
func aliasIndex(alias string) (int, bool) {
	rest, ok := strings.CutPrefix(alias, "q_")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return i, true
}
