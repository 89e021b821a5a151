// Package catalog reads products from the storefront's public REST catalog
// (the fakestore API) and turns them into cart product snapshots.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

const (
	DefaultBaseURL = "https://fakestoreapi.com"
	// AllCategory is prepended to the category list and matches every product.
	AllCategory = "all"
)

var ErrNotFound = errors.New("catalog: product not found")

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("catalog: GET %s: status %d", e.URL, e.Status)
}

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: 10 * time.Second}
}

type Rating struct {
	Rate  float64 `json:"rate"`
	Count int     `json:"count"`
}

type Product struct {
	ID          string          `json:"-"`
	RawID       json.Number     `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Rating      Rating          `json:"rating"`
}

// Snapshot is the denormalized copy stored in a cart line.
func (p Product) Snapshot() cart.ProductSnapshot {
	return cart.ProductSnapshot{
		ID:          p.ID,
		Title:       p.Title,
		Price:       p.Price,
		Image:       p.Image,
		Category:    p.Category,
		Description: p.Description,
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  log.Log
}

// NewClient builds a catalog client. A nil httpClient gets one with
// cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger log.Log) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  log.OrNop(logger).With(log.Component("catalog")),
	}
}

func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.get(ctx, "/products", &products); err != nil {
		return nil, err
	}
	for i := range products {
		products[i].ID = products[i].RawID.String()
	}
	return products, nil
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := c.get(ctx, "/products/categories", &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// Product fetches one product. The catalog answers an unknown id with an
// empty body, which maps to ErrNotFound.
func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	var p *Product
	if err := c.get(ctx, "/products/"+url.PathEscape(id), &p); err != nil {
		return Product{}, err
	}
	if p == nil || p.RawID == "" {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.ID = p.RawID.String()
	return *p, nil
}

// Listing is what the product list screen needs.
type Listing struct {
	Products   []Product
	Categories []string
}

// LoadListing fetches products and categories concurrently. Categories start
// with AllCategory.
func (c *Client) LoadListing(ctx context.Context) (Listing, error) {
	var listing Listing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		products, err := c.Products(gctx)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		listing.Products = products
		return nil
	})
	g.Go(func() error {
		categories, err := c.Categories(gctx)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		listing.Categories = append([]string{AllCategory}, categories...)
		return nil
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("Catalog listing failed", log.Error(err))
		return Listing{}, err
	}
	return listing, nil
}

// Filter returns the products in category; AllCategory and "" return all.
func (l Listing) Filter(category string) []Product {
	if category == "" || category == AllCategory {
		return l.Products
	}
	var out []Product
	for _, p := range l.Products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the product with id from the listing.
func (l Listing) Find(id string) (Product, bool) {
	for _, p := range l.Products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: GET %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, URL: target}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", target, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("catalog: decode %s: %w", target, err)
	}
	return nil
}
