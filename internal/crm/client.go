// Package crm fetches the company directory (employees and assets) from the
// customer's CRM.
package crm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// Config configures the CRM client. An empty BaseURL or Mock selects the
// built-in demo directory.
type Config struct {
	BaseURL   string
	CompanyID string
	APIKey    string
	Timeout   time.Duration
	Mock      bool
}

// Client reads users and assets from the CRM.
type Client struct {
	httpClient *resty.Client
	cfg        Config
	logger     *zap.Logger
}

type crmUser struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
}

type crmAsset struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CompanyID string `json:"companyId"`
}

// NewClient creates a CRM client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.Mock = true
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{httpClient: client, cfg: cfg, logger: logger.Named("crm")}
}

// Mock reports whether the client serves the demo directory.
func (c *Client) Mock() bool { return c.cfg.Mock }

// FetchUsers returns the employees of the configured company.
func (c *Client) FetchUsers(ctx context.Context) ([]models.Employee, error) {
	if c.cfg.Mock {
		return mockUsers(c.cfg.CompanyID), nil
	}

	var users []crmUser
	if err := c.get(ctx, "/users", &users); err != nil {
		return nil, err
	}
	out := make([]models.Employee, 0, len(users))
	for _, u := range users {
		out = append(out, models.Employee{ID: u.ID, Name: u.Name, Role: u.Role, CompanyID: c.company(u.CompanyID)})
	}
	c.logger.Info("fetched users", zap.Int("count", len(out)))
	return out, nil
}

// FetchAssets returns the assets of the configured company.
func (c *Client) FetchAssets(ctx context.Context) ([]models.Asset, error) {
	if c.cfg.Mock {
		return mockAssets(c.cfg.CompanyID), nil
	}

	var assets []crmAsset
	if err := c.get(ctx, "/assets", &assets); err != nil {
		return nil, err
	}
	out := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, models.Asset{ID: a.ID, Name: a.Name, Type: a.Type, CompanyID: c.company(a.CompanyID)})
	}
	c.logger.Info("fetched assets", zap.Int("count", len(out)))
	return out, nil
}

func (c *Client) company(id string) string {
	if id != "" {
		return id
	}
	return c.cfg.CompanyID
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req := c.httpClient.R().SetContext(ctx).SetResult(result)
	if c.cfg.CompanyID != "" {
		req.SetQueryParam("companyId", c.cfg.CompanyID)
	}

	resp, err := req.Get(path)
	if err != nil {
		c.logger.Error("CRM request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("calling CRM %s: %w", path, err)
	}
	if resp.IsError() {
		c.logger.Error("CRM returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()))
		return fmt.Errorf("CRM %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func mockUsers(companyID string) []models.Employee {
	return []models.Employee{
		{ID: 1, Name: "Mario Rossi", Role: "Operaio", CompanyID: companyID},
		{ID: 2, Name: "Lucia Bianchi", Role: "Ingegnere", CompanyID: companyID},
	}
}

func mockAssets(companyID string) []models.Asset {
	return []models.Asset{
		{ID: 10, Name: "Escavatore A", Type: "Macchina", CompanyID: companyID},
		{ID: 11, Name: "Cassa Attrezzi", Type: "Contenitore", CompanyID: companyID},
	}
}

// ParseCompanyID validates a numeric company id coming from a request.
func ParseCompanyID(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "", fmt.Errorf("invalid company id %q", raw)
	}
	return raw, nil
}
