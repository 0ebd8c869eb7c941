package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	DefaultAPIURL    = "https://oldschool.runescape.wiki/api.php"
	DefaultPage      = "Collection_log/Table"
	DefaultUserAgent = "clogpoints/1.0"
)

// Client talks to a MediaWiki api.php endpoint.
type Client struct {
	client    *http.Client
	parser    *gofeed.Parser
	apiURL    string
	feedURL   string
	page      string
	userAgent string
}

// NewClient creates a wiki client. Empty arguments fall back to the defaults.
func NewClient(apiURL, page, userAgent string, timeout time.Duration) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if page == "" {
		page = DefaultPage
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		apiURL:    apiURL,
		feedURL:   historyFeedURL(apiURL, page),
		page:      page,
		userAgent: userAgent,
	}
}

// Page returns the wiki page this client reads.
func (c *Client) Page() string { return c.page }

// FetchTable returns the rendered HTML of the configured page.
func (c *Client) FetchTable(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("action", "parse")
	params.Set("page", c.page)
	params.Set("format", "json")
	params.Set("prop", "text")

	reqURL := c.apiURL + "?" + params.Encode()
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	return DecodeParseResponse(body)
}

// DecodeParseResponse extracts parse.text["*"] from an action=parse envelope.
func DecodeParseResponse(r io.Reader) (string, error) {
	var envelope parseResponse
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode parse response: %w: %v", ErrMalformedResponse, err)
	}
	if envelope.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrMalformedResponse, envelope.Error.Code, envelope.Error.Info)
	}
	if envelope.Parse == nil || envelope.Parse.Text.HTML == "" {
		return "", ErrMalformedResponse
	}
	return envelope.Parse.Text.HTML, nil
}

func (c *Client) get(ctx context.Context, reqURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create wiki request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: reqURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &FetchError{URL: reqURL, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func historyFeedURL(apiURL, page string) string {
	base := strings.TrimSuffix(apiURL, "api.php")
	params := url.Values{}
	params.Set("title", page)
	params.Set("action", "history")
	params.Set("feed", "atom")
	return base + "index.php?" + params.Encode()
}

type parseResponse struct {
	Parse *struct {
		Title string `json:"title"`
		Text  struct {
			HTML string `json:"*"`
		} `json:"text"`
	} `json:"parse"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}
