package spark

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mls_sync/config"
	"mls_sync/httputil"
)

// ErrPermissionDenied reports a 403 from the feed. Photo lookups treat it as
// permanent for the listing in question.
var ErrPermissionDenied = errors.New("permission denied by feed")

// RawListing is an undecoded replication record. Normalization happens in
// the flatten package; the client hands records through untouched.
type RawListing = map[string]interface{}

type Client struct {
	baseURL   string
	token     string
	clients   *httputil.Clients
	policy    httputil.Policy
	pageDelay time.Duration
}

func NewClient(cfg config.SparkConfig, clients *httputil.Clients, pageDelay time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.AccessToken,
		clients:   clients,
		policy:    httputil.DefaultPolicy(),
		pageDelay: pageDelay,
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.token}
}

// envelope is the feed's response wrapper. SkipToken is the only valid
// continuation cursor; it must never be synthesized from record ids.
type envelope struct {
	D struct {
		Success    bool         `json:"Success"`
		Results    []RawListing `json:"Results"`
		SkipToken  string       `json:"SkipToken"`
		Pagination struct {
			TotalRows int `json:"TotalRows"`
		} `json:"Pagination"`
	} `json:"D"`
}

// Page is one replication page plus the server-issued continuation token.
type Page struct {
	Results   []RawListing
	SkipToken string
	TotalRows int
}

func (c *Client) listingsURL(q ListingQuery, skipToken string, extra url.Values) string {
	v := url.Values{}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	v.Set("_limit", strconv.Itoa(limit))
	if f := q.Filter(); f != "" {
		v.Set("_filter", f)
	}
	if skipToken != "" {
		v.Set("_skiptoken", skipToken)
	}
	if len(q.Expansions) > 0 {
		v.Set("_expand", strings.Join(q.Expansions, ","))
	}
	if len(q.Select) > 0 {
		v.Set("_select", strings.Join(q.Select, ","))
	}
	for k := range extra {
		v.Set(k, extra.Get(k))
	}
	return c.baseURL + "/listings?" + v.Encode()
}

// FetchPage pulls a single page. An empty skipToken requests the first page.
func (c *Client) FetchPage(ctx context.Context, q ListingQuery, skipToken string) (*Page, error) {
	var env envelope
	status, snippet, err := httputil.GetJSON(ctx, c.clients.Replication, c.listingsURL(q, skipToken, nil), c.headers(), c.policy, &env)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d: %s", status, snippet)
	}
	if !env.D.Success {
		return nil, fmt.Errorf("feed reported failure")
	}
	return &Page{
		Results:   env.D.Results,
		SkipToken: env.D.SkipToken,
		TotalRows: env.D.Pagination.TotalRows,
	}, nil
}

// TotalCount asks the feed how many records match the query.
func (c *Client) TotalCount(ctx context.Context, q ListingQuery) (int, error) {
	counted := q
	counted.Limit = 1
	counted.Expansions = nil

	var env envelope
	status, snippet, err := httputil.GetJSON(ctx, c.clients.API,
		c.listingsURL(counted, "", url.Values{"_pagination": {"count"}}),
		c.headers(), c.policy, &env)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("count request returned %d: %s", status, snippet)
	}
	return env.D.Pagination.TotalRows, nil
}

// FetchAll walks every page of the query, invoking each per batch. The
// continuation token always comes from the response; iteration stops on an
// empty batch or when the feed stops advancing the token. Returns the total
// records seen.
func (c *Client) FetchAll(ctx context.Context, q ListingQuery, each func(batch []RawListing) error) (int, error) {
	expected, err := c.TotalCount(ctx, q)
	if err != nil {
		log.Printf("Fetch: Warning: count preflight failed: %v", err)
		expected = -1
	} else {
		log.Printf("Fetch: feed reports %d matching records", expected)
	}

	total := 0
	page := 0
	token := ""
	for {
		p, err := c.FetchPage(ctx, q, token)
		if err != nil {
			return total, fmt.Errorf("page %d: %w", page+1, err)
		}
		if len(p.Results) == 0 {
			break
		}

		page++
		total += len(p.Results)
		if each != nil {
			if err := each(p.Results); err != nil {
				return total, err
			}
		}
		if expected > 0 {
			log.Printf("Fetch: page %d — %d records (%d/%d)", page, len(p.Results), total, expected)
		} else {
			log.Printf("Fetch: page %d — %d records (%d so far)", page, len(p.Results), total)
		}

		if p.SkipToken == "" || p.SkipToken == token {
			break
		}
		token = p.SkipToken

		if c.pageDelay > 0 {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}
	}

	// Zero results against a positive preflight count means the pull itself
	// is broken, not that the feed drifted; a partial mismatch is tolerable.
	if expected > 0 && total == 0 {
		return 0, fmt.Errorf("feed reported %d matching records but returned none", expected)
	}
	if expected >= 0 && total != expected {
		log.Printf("Fetch: Warning: pulled %d records but feed reported %d", total, expected)
	}
	return total, nil
}

// StatusResult is the live status of a single listing, or Found=false when
// the feed no longer exposes it.
type StatusResult struct {
	Found                 bool
	StandardStatus        string
	StatusChangeTimestamp string
	CloseDate             string
	ClosePrice            *float64
}

// StatusCheck looks up one listing by association and key. A 403 or 404 is
// not an error here: it means the record is gone from the feed.
func (c *Client) StatusCheck(ctx context.Context, mlsID, listingKey string) (*StatusResult, error) {
	q := ListingQuery{
		Limit:  1,
		Select: []string{"ListingKey", "StandardStatus", "StatusChangeTimestamp", "CloseDate", "ClosePrice"},
	}
	filter := And(Eq("MlsId", mlsID), Eq("ListingKey", listingKey))

	v := url.Values{}
	v.Set("_limit", "1")
	v.Set("_filter", filter)
	v.Set("_select", strings.Join(q.Select, ","))
	reqURL := c.baseURL + "/listings?" + v.Encode()

	var env envelope
	status, snippet, err := httputil.GetJSON(ctx, c.clients.API, reqURL, c.headers(), c.policy, &env)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		return &StatusResult{Found: false}, nil
	default:
		return nil, fmt.Errorf("status check returned %d: %s", status, snippet)
	}
	if len(env.D.Results) == 0 {
		return &StatusResult{Found: false}, nil
	}

	rec := env.D.Results[0]
	std, _ := rec["StandardFields"].(map[string]interface{})
	if std == nil {
		std = rec
	}
	res := &StatusResult{Found: true}
	res.StandardStatus, _ = std["StandardStatus"].(string)
	res.StatusChangeTimestamp, _ = std["StatusChangeTimestamp"].(string)
	res.CloseDate, _ = std["CloseDate"].(string)
	if p, ok := std["ClosePrice"].(float64); ok {
		res.ClosePrice = &p
	}
	return res, nil
}

// Photo is one entry from a listing's photo roll.
type Photo struct {
	ID       string `json:"Id"`
	Name     string `json:"Name"`
	Caption  string `json:"Caption"`
	UriThumb string `json:"UriThumb"`
	Uri300   string `json:"Uri300"`
	Uri640   string `json:"Uri640"`
	Uri800   string `json:"Uri800"`
	Uri1024  string `json:"Uri1024"`
	Uri1280  string `json:"Uri1280"`
	Uri1600  string `json:"Uri1600"`
	Uri2048  string `json:"Uri2048"`
	UriLarge string `json:"UriLarge"`
	Primary  bool   `json:"Primary"`
}

type photoEnvelope struct {
	D struct {
		Success bool    `json:"Success"`
		Results []Photo `json:"Results"`
	} `json:"D"`
}

// Photos returns the photo roll for a listing. 403 maps to
// ErrPermissionDenied; 404 means no photos.
func (c *Client) Photos(ctx context.Context, listingKey string) ([]Photo, error) {
	reqURL := fmt.Sprintf("%s/listings/%s/photos", c.baseURL, url.PathEscape(listingKey))

	var env photoEnvelope
	status, snippet, err := httputil.GetJSON(ctx, c.clients.API, reqURL, c.headers(), c.policy, &env)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return env.D.Results, nil
	case http.StatusForbidden:
		return nil, ErrPermissionDenied
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("photo request returned %d: %s", status, snippet)
	}
}
