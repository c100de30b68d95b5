package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"sjsage522/marketworker/helpers"
	"sjsage522/marketworker/logger"
	"sjsage522/marketworker/pkg/errors"
)

// DirectOptions configures a DirectRequestStrategy
type DirectOptions struct {
	Origin             string
	SearchPathTemplate string
	GraphQLEndpoint    string
	GraphQLDocID       string
	UserAgent          string
	Timeout            time.Duration
	LoginMarkers       []string
	SnippetBytes       int
	RequestsPerMinute  int
	CloudflareBypass   bool
	Reporter           helpers.Reporter
}

// requestBuilder produces the URL and optional form body for a search
type requestBuilder func(spec SearchSpec) (target string, form map[string]string, err error)

// DirectRequestStrategy fetches a search with a single plain HTTP request
type DirectRequestStrategy struct {
	name         string
	method       string
	client       *resty.Client
	limiter      *rate.Limiter
	build        requestBuilder
	userAgent    string
	loginMarkers []string
	snippetBytes int
	reporter     helpers.Reporter

	mu  sync.Mutex
	rnd *mathrand.Rand
}

// NewDirectGetStrategy creates a GET strategy against the search page
func NewDirectGetStrategy(opts DirectOptions) *DirectRequestStrategy {
	return newDirectStrategy("direct-get", "GET", opts, func(spec SearchSpec) (string, map[string]string, error) {
		return SearchURL(opts.Origin, opts.SearchPathTemplate, spec), nil, nil
	})
}

// NewDirectPostStrategy creates a POST strategy against the structured query endpoint
func NewDirectPostStrategy(opts DirectOptions) *DirectRequestStrategy {
	return newDirectStrategy("direct-post", "POST", opts, func(spec SearchSpec) (string, map[string]string, error) {
		variables, err := json.Marshal(graphQLVariables(spec))
		if err != nil {
			return "", nil, err
		}
		form := map[string]string{
			"fb_api_caller_class":      "RelayModern",
			"fb_api_req_friendly_name": "MarketplaceSearchResultsPageContainerNewQuery",
			"variables":                string(variables),
		}
		if opts.GraphQLDocID != "" {
			form["doc_id"] = opts.GraphQLDocID
		}
		return strings.TrimRight(opts.Origin, "/") + opts.GraphQLEndpoint, form, nil
	})
}

func newDirectStrategy(name, method string, opts DirectOptions, build requestBuilder) *DirectRequestStrategy {
	client := resty.New()
	if jar, err := cookiejar.New(nil); err == nil {
		client.SetCookieJar(jar)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	snippet := opts.SnippetBytes
	if snippet <= 0 {
		snippet = 512
	}

	return &DirectRequestStrategy{
		name:         name,
		method:       method,
		client:       client,
		limiter:      limiter,
		build:        build,
		userAgent:    opts.UserAgent,
		loginMarkers: opts.LoginMarkers,
		snippetBytes: snippet,
		reporter:     opts.Reporter,
		rnd:          helpers.NewRand(),
	}
}

// Name returns the transport name
func (s *DirectRequestStrategy) Name() string {
	return s.name
}

// Kind returns KindDirect
func (s *DirectRequestStrategy) Kind() TransportKind {
	return KindDirect
}

// Fetch issues one request and fails fast on anything but a 2xx response
func (s *DirectRequestStrategy) Fetch(ctx context.Context, spec SearchSpec, session *Session) (*RawPayload, error) {
	log := logger.ForTransport(s.name)

	target, form, err := s.build(spec)
	if err != nil {
		return nil, errors.NewTransport(s.name, "failed to build request", err)
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errors.NewTransport(s.name, "request pacing interrupted", err)
		}
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeaders(s.headers())
	if session != nil && len(session.Cookies) > 0 {
		req.SetCookies(session.Cookies)
	}

	report(s.reporter, "Attempting %s %s", s.method, target)
	log.Debug().Str("method", s.method).Str("url", target).Msg("Sending request")

	var res *resty.Response
	if s.method == "POST" {
		res, err = req.SetFormData(form).Post(target)
	} else {
		res, err = req.Get(target)
	}
	if err != nil {
		return nil, errors.NewTransport(s.name, fmt.Sprintf("request to %s failed", target), err)
	}

	finalURL := target
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		finalURL = res.RawResponse.Request.URL.String()
	}
	if IsAuthWall(finalURL, s.loginMarkers) {
		report(s.reporter, "Login redirect detected at %s", finalURL)
		return nil, errors.NewBlocked(s.name, finalURL)
	}

	if helpers.IsRateLimited(res.StatusCode()) {
		return nil, errors.NewRateLimit(s.name, res.StatusCode(), res.Header().Get("Retry-After"))
	}
	if !res.IsSuccess() {
		return nil, errors.NewTransport(s.name,
			fmt.Sprintf("unexpected status code: %d: %s", res.StatusCode(), helpers.Snippet(res.Body(), s.snippetBytes)), nil)
	}

	contentType := res.Header().Get("Content-Type")
	body, err := helpers.DecodeBody(res.Body(), contentType)
	if err != nil {
		return nil, errors.NewTransport(s.name, "failed to decode body", err)
	}

	log.Debug().Int("status", res.StatusCode()).Int("bytes", len(body)).Msg("Received payload")
	return &RawPayload{
		Body:          body,
		ContentType:   contentType,
		Status:        res.StatusCode(),
		FinalURL:      finalURL,
		TransportKind: KindDirect,
	}, nil
}

func (s *DirectRequestStrategy) headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	headers := helpers.BrowserHeaders(s.userAgent, s.rnd)
	if s.method == "POST" {
		headers["Accept"] = "*/*"
		headers["Sec-Fetch-Mode"] = "cors"
		headers["Sec-Fetch-Site"] = "same-origin"
	}
	return headers
}

// SearchURL builds the primary search page URL for spec
func SearchURL(origin, pathTemplate string, spec SearchSpec) string {
	path := strings.ReplaceAll(pathTemplate, "{location}", url.PathEscape(spec.LocationCode))
	query := url.Values{}
	query.Set("query", spec.ProductQuery)
	query.Set("exact", strconv.FormatBool(spec.MatchMode == MatchExact))
	query.Set("minPrice", strconv.Itoa(spec.MinPrice))
	query.Set("maxPrice", strconv.Itoa(spec.MaxPrice))
	return strings.TrimRight(origin, "/") + path + "?" + query.Encode()
}

func graphQLVariables(spec SearchSpec) map[string]any {
	return map[string]any{
		"count": 24,
		"buyLocation": map[string]any{
			"location_id": spec.LocationCode,
		},
		"params": map[string]any{
			"bqf": map[string]any{
				"callsite": "COMMERCE_MKTPLACE_WWW",
				"query":    spec.ProductQuery,
			},
			"browse_request_params": map[string]any{
				"filter_price_lower_bound":           spec.MinPrice * 100,
				"filter_price_upper_bound":           spec.MaxPrice * 100,
				"commerce_search_and_rp_exact_match": spec.MatchMode == MatchExact,
			},
		},
	}
}

// IsAuthWall reports whether finalURL's path contains a login marker
func IsAuthWall(finalURL string, markers []string) bool {
	if finalURL == "" {
		return false
	}
	path := finalURL
	if u, err := url.Parse(finalURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	for _, marker := range markers {
		if marker != "" && strings.Contains(path, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func report(r helpers.Reporter, format string, args ...interface{}) {
	if r != nil {
		r.Report(format, args...)
	}
}
