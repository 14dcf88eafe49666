// Package backend reads completed cases and underwriter overrides from the
// case-management service for training.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sanidhya1398/uw-decision-support/internal/config"
)

const (
	casesPath     = "/api/v1/cases/for-training"
	overridesPath = "/api/v1/overrides/for-training"
)

// Client fetches training records over HTTP. Fetch failures are logged and
// returned as empty collections.
type Client struct {
	baseURL          string
	casesTimeout     time.Duration
	overridesTimeout time.Duration
	http             *http.Client
	logger           *zap.Logger
}

// NewClient creates a backend client
func NewClient(cfg config.BackendConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:          strings.TrimRight(cfg.URL, "/"),
		casesTimeout:     cfg.CasesTimeout,
		overridesTimeout: cfg.OverridesTimeout,
		http:             &http.Client{},
		logger:           logger.With(zap.String("component", "backend_client")),
	}
}

// CasesForTraining fetches up to limit completed cases with disclosures,
// risk factors and decisions.
func (c *Client) CasesForTraining(ctx context.Context, limit int) []Case {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("status", "COMPLETED")
	params.Set("include_disclosures", "true")
	params.Set("include_risk_factors", "true")
	params.Set("include_decisions", "true")

	records, err := c.fetch(ctx, casesPath, params, c.casesTimeout, "cases")
	if err != nil {
		c.logger.Error("Failed to fetch training cases", zap.Error(err))
		return []Case{}
	}

	cases := make([]Case, 0, len(records))
	for _, r := range records {
		cases = append(cases, parseCase(r))
	}
	c.logger.Info("Fetched training cases", zap.Int("count", len(cases)), zap.Int("limit", limit))
	return cases
}

// OverridesForTraining fetches overrides of one type recorded within the last days.
func (c *Client) OverridesForTraining(ctx context.Context, overrideType string, days int, validatedOnly bool) []Override {
	params := url.Values{}
	params.Set("type", overrideType)
	params.Set("days", strconv.Itoa(days))
	params.Set("validated", strconv.FormatBool(validatedOnly))

	records, err := c.fetch(ctx, overridesPath, params, c.overridesTimeout, "overrides")
	if err != nil {
		c.logger.Error("Failed to fetch overrides",
			zap.String("type", overrideType),
			zap.Error(err))
		return []Override{}
	}

	overrides := make([]Override, 0, len(records))
	for _, r := range records {
		o := parseOverride(r)
		if o.Type == "" {
			o.Type = overrideType
		}
		overrides = append(overrides, o)
	}
	c.logger.Info("Fetched overrides",
		zap.String("type", overrideType),
		zap.Int("count", len(overrides)),
		zap.Int("days", days))
	return overrides
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values, timeout time.Duration, envelopeKey string) ([]record, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	endpoint := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeRecords(body, envelopeKey)
}

// decodeRecords accepts a bare JSON array or an object wrapping the array
// under "data" or the collection name.
func decodeRecords(body []byte, envelopeKey string) ([]record, error) {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if obj := toRecord(payload); obj != nil {
		items := obj.list("data", envelopeKey)
		if items == nil {
			return nil, fmt.Errorf("response object has no %q or %q array", "data", envelopeKey)
		}
		return items, nil
	}
	items, ok := payload.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", payload)
	}
	return toRecords(items), nil
}
