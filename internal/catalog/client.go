// Package catalog fetches and validates product data from the store API,
// keeping a timestamped JSON backup of every raw payload.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
	"github.com/figueredoestupinan2025/rpa-productos/internal/retry"
)

// StatusError reports a non-2xx response. It is surfaced immediately and
// never retried.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Client consumes the product-catalog REST API.
type Client struct {
	cfg        config.APIConfig
	httpClient *http.Client
	backupDir  string
	policy     retry.Policy
	clock      clock.Clock
	logger     *zap.Logger
}

// NewClient builds a Client writing raw backups under backupDir.
func NewClient(cfg config.APIConfig, backupDir string, clk clock.Clock, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		backupDir:  backupDir,
		policy: retry.NewPolicy(
			cfg.RetryAttempts,
			time.Duration(cfg.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.BackoffMaxMs)*time.Millisecond,
			retry.Transient,
		),
		clock:  clk,
		logger: logger,
	}
}

// FetchProducts retrieves the catalog, writes the raw payload backup, and
// returns only the records that pass validation plus the backup file path.
func (c *Client) FetchProducts(ctx context.Context) ([]Product, string, error) {
	body, err := c.get(ctx, c.cfg.ProductsEndpoint())
	if err != nil {
		return nil, "", err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("decode products payload: %w", err)
	}

	backupPath, err := c.writeBackup(raw)
	if err != nil {
		return nil, "", err
	}

	products := c.processProducts(raw)
	c.logger.Info("catalog fetched",
		zap.Int("raw", len(raw)),
		zap.Int("valid", len(products)),
		zap.String("backup", backupPath))
	return products, backupPath, nil
}

// FetchCategories retrieves the available category names.
func (c *Client) FetchCategories(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.cfg.CategoriesEndpoint())
	if err != nil {
		return nil, err
	}
	var categories []string
	if err := json.Unmarshal(body, &categories); err != nil {
		return nil, fmt.Errorf("decode categories payload: %w", err)
	}
	return categories, nil
}

// Ping reports whether the API answers with a success status.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.get(ctx, c.cfg.ProductsEndpoint())
	return err == nil
}

// get performs one GET wrapped in the retry policy. Transient network
// failures are retried; non-2xx statuses surface as *StatusError at once.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.policy.Do(ctx, c.logger, "api GET "+url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("api request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode, URL: url}
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// backupDocument is the on-disk shape of the raw payload backup.
type backupDocument struct {
	Timestamp     string            `json:"timestamp"`
	SourceAPI     string            `json:"source_api"`
	TotalProducts int               `json:"total_products"`
	Products      []json.RawMessage `json:"products"`
}

func (c *Client) writeBackup(raw []json.RawMessage) (string, error) {
	if err := os.MkdirAll(c.backupDir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", c.backupDir, err)
	}

	now := c.clock.Now()
	doc := backupDocument{
		Timestamp:     now.Format(time.RFC3339),
		SourceAPI:     c.cfg.ProductsEndpoint(),
		TotalProducts: len(raw),
		Products:      raw,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	path := filepath.Join(c.backupDir, fmt.Sprintf("Productos_%s.json", now.Format("2006-01-02")))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup %s: %w", path, err)
	}
	return path, nil
}

func (c *Client) processProducts(raw []json.RawMessage) []Product {
	now := c.clock.Now()
	products := make([]Product, 0, len(raw))
	for i, entry := range raw {
		var rp rawProduct
		if err := json.Unmarshal(entry, &rp); err != nil {
			c.logger.Warn("dropping malformed record", zap.Int("index", i), zap.Error(err))
			continue
		}
		p, err := rp.validate(now)
		if err != nil {
			c.logger.Warn("dropping invalid record", zap.Int("index", i), zap.Error(err))
			continue
		}
		products = append(products, p)
	}
	return products
}
