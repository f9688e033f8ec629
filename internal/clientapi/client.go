// Package clientapi implements the client-API REST surface the SDK core
// consumes: the hashing-ignored-field-lists endpoint used by incremental
// synchronization.
//
// Responses are cached in memory for one hour. Concurrent callers with no
// cached value are coalesced into a single HTTP request; a failed fetch is
// surfaced to every waiting caller and never populates the cache.
package clientapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"mtcloud-sdk/pkg/types"
)

const cacheTTL = time.Hour

// URLResolver resolves a regional base URL for a client-API service.
type URLResolver interface {
	GetURL(service, region string) (string, error)
}

// DomainResolver builds URLs of the form https://{service}.{region}.{domain}.
type DomainResolver struct {
	Domain string
}

// GetURL implements URLResolver. The service argument carries the scheme and
// service host prefix (e.g. "https://mt-client-api-v1").
func (r DomainResolver) GetURL(service, region string) (string, error) {
	if region == "" {
		return "", fmt.Errorf("region is required to resolve %q", service)
	}
	return fmt.Sprintf("%s.%s.%s", service, region, r.Domain), nil
}

// staticResolver always returns a fixed URL. Used by tests and single-host
// deployments.
type staticResolver struct {
	url string
}

func (r staticResolver) GetURL(string, string) (string, error) { return r.url, nil }

// NewStaticResolver returns a resolver pinned to one base URL.
func NewStaticResolver(url string) URLResolver { return staticResolver{url: url} }

// Client fetches and caches hashing-ignored field lists.
type Client struct {
	http     *resty.Client
	token    string
	resolver URLResolver
	service  string
	logger   *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	cached    *types.HashingIgnoredFieldLists
	fetchedAt time.Time

	now func() time.Time
}

// New creates a client-API client authenticated with the given JWT.
func New(token string, resolver URLResolver, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		token:    token,
		resolver: resolver,
		service:  "https://mt-client-api-v1",
		logger:   logger.With("component", "clientapi"),
		now:      time.Now,
	}
}

// GetHashingIgnoredFieldLists returns the per-generation field ignore lists,
// serving from cache when the last successful fetch is younger than one hour.
func (c *Client) GetHashingIgnoredFieldLists(ctx context.Context, region string) (types.HashingIgnoredFieldLists, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.fetchedAt) < cacheTTL {
		lists := *c.cached
		c.mu.Unlock()
		return lists, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(region, func() (interface{}, error) {
		lists, err := c.fetch(ctx, region)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = &lists
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return lists, nil
	})
	if err != nil {
		return types.HashingIgnoredFieldLists{}, err
	}
	return v.(types.HashingIgnoredFieldLists), nil
}

func (c *Client) fetch(ctx context.Context, region string) (types.HashingIgnoredFieldLists, error) {
	baseURL, err := c.resolver.GetURL(c.service, region)
	if err != nil {
		return types.HashingIgnoredFieldLists{}, fmt.Errorf("resolve client api url: %w", err)
	}

	var result types.HashingIgnoredFieldLists
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("auth-token", c.token).
		SetResult(&result).
		Get(baseURL + "/hashing-ignored-field-lists")
	if err != nil {
		return types.HashingIgnoredFieldLists{}, fmt.Errorf("get hashing ignored field lists: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.HashingIgnoredFieldLists{}, fmt.Errorf(
			"get hashing ignored field lists: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("hashing ignored field lists refreshed", "region", region)
	return result, nil
}
