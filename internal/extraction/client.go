package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"servicesift-backend/internal/analyses"
)

// DefaultMaxReviews bounds a single extraction.
const DefaultMaxReviews = 200

// maxBodyBytes caps the upstream response read into memory.
const maxBodyBytes = 20 << 20

var (
	ErrNotConfigured = errors.New("extraction service is not configured")
	ErrNoReviews     = errors.New("extraction returned no reviews")
)

// Result is the normalized extraction output.
type Result struct {
	BusinessName string
	TotalScore   float64
	ReviewCount  int
	Reviews      []analyses.Review
}

// Extractor fetches reviews for a listing URL.
type Extractor interface {
	Extract(ctx context.Context, url string, maxReviews int) (Result, error)
}

// Client calls the scraping service over HTTP.
type Client struct {
	Endpoint   string
	Token      string
	HTTPClient *http.Client
}

// NewClient constructs a Client with the given request timeout.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &Client{
		Endpoint:   strings.TrimSpace(endpoint),
		Token:      strings.TrimSpace(token),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	URL        string `json:"url"`
	MaxReviews int    `json:"maxReviews"`
}

type extractReview struct {
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	Stars       float64 `json:"stars"`
	Rating      float64 `json:"rating"`
	Text        string  `json:"text"`
	PublishedAt string  `json:"publishedAtDate"`
}

type extractResponse struct {
	Success      bool            `json:"success"`
	BusinessName string          `json:"businessName"`
	TotalScore   float64         `json:"totalScore"`
	ReviewCount  int             `json:"reviewCount"`
	Reviews      []extractReview `json:"reviews"`
	Error        string          `json:"error"`
}

// Extract posts the listing URL to the scraping service and returns its reviews.
func (c *Client) Extract(ctx context.Context, url string, maxReviews int) (Result, error) {
	if c == nil || c.Endpoint == "" {
		return Result{}, ErrNotConfigured
	}
	if maxReviews <= 0 {
		maxReviews = DefaultMaxReviews
	}
	payload, err := json.Marshal(extractRequest{URL: url, MaxReviews: maxReviews})
	if err != nil {
		return Result{}, eris.Wrap(err, "marshal extraction request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, eris.Wrap(err, "build extraction request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "extraction request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, eris.Wrap(err, "read extraction response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, eris.New(fmt.Sprintf("extraction service returned %d: %s", resp.StatusCode, snippet(body)))
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, eris.Wrap(err, "parse extraction response")
	}
	if !parsed.Success {
		msg := strings.TrimSpace(parsed.Error)
		if msg == "" {
			msg = "unknown error"
		}
		return Result{}, eris.New("extraction unsuccessful: " + msg)
	}

	out := Result{
		BusinessName: strings.TrimSpace(parsed.BusinessName),
		TotalScore:   parsed.TotalScore,
		ReviewCount:  parsed.ReviewCount,
		Reviews:      make([]analyses.Review, 0, len(parsed.Reviews)),
	}
	for _, rv := range parsed.Reviews {
		text := strings.TrimSpace(rv.Text)
		if text == "" {
			continue
		}
		author := rv.Author
		if author == "" {
			author = rv.Name
		}
		rating := rv.Rating
		if rating == 0 {
			rating = rv.Stars
		}
		out.Reviews = append(out.Reviews, analyses.Review{
			Author:      strings.TrimSpace(author),
			Rating:      rating,
			Text:        text,
			PublishedAt: rv.PublishedAt,
		})
	}
	if len(out.Reviews) == 0 {
		return Result{}, ErrNoReviews
	}
	return out, nil
}

// AverageRating returns the mean star rating of the reviews, rounded to two decimals.
func AverageRating(reviews []analyses.Review) float64 {
	var sum float64
	var n int
	for _, rv := range reviews {
		if rv.Rating <= 0 {
			continue
		}
		sum += rv.Rating
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(int(sum/float64(n)*100+0.5)) / 100
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
