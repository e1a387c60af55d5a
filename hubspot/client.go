package hubspot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter <-chan time.Time
}

func NewClient(token string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("HUBSPOT_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.hubapi.com"
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("hubspot access token is empty")
	}
	rateLimitPerMin := int64(100)
	if v := strings.TrimSpace(os.Getenv("HUBSPOT_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := parseInt64(v); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

func objectPath(entityType models.EntityType) string {
	switch entityType {
	case models.EntityTypeContact:
		return "contacts"
	case models.EntityTypeCompany:
		return "companies"
	case models.EntityTypeInvoice:
		return "invoices"
	case models.EntityTypeLineItem:
		return "line_items"
	}
	return ""
}

// GetModifiedSince lists entities of one type whose source modification
// timestamp is at or after since.
func (c *Client) GetModifiedSince(ctx context.Context, entityType models.EntityType, since time.Time) ([]models.SourceEntity, error) {
	params := url.Values{}
	params.Set("modifiedSince", since.UTC().Format(time.RFC3339))
	return c.listAll(ctx, entityType, params)
}

// GetAll lists every entity of one type currently known to the source.
func (c *Client) GetAll(ctx context.Context, entityType models.EntityType) ([]models.SourceEntity, error) {
	return c.listAll(ctx, entityType, url.Values{})
}

// GetLineItemsForInvoice lists the line items attached to one invoice.
func (c *Client) GetLineItemsForInvoice(ctx context.Context, invoiceExternalId string) ([]models.SourceEntity, error) {
	invoiceExternalId = strings.TrimSpace(invoiceExternalId)
	if invoiceExternalId == "" {
		return nil, errors.New("invoice external id is required")
	}
	path := fmt.Sprintf("/crm/v3/objects/invoices/%s/line_items", url.PathEscape(invoiceExternalId))
	return c.pageThrough(ctx, path, url.Values{})
}

func (c *Client) listAll(ctx context.Context, entityType models.EntityType, params url.Values) ([]models.SourceEntity, error) {
	path := objectPath(entityType)
	if path == "" {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	return c.pageThrough(ctx, "/crm/v3/objects/"+path, params)
}

type listResponse struct {
	Results []sourceRecord `json:"results"`
	Paging  *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type sourceRecord struct {
	Id         string         `json:"id"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Archived   bool           `json:"archived"`
	Properties map[string]any `json:"properties"`
}

func (c *Client) pageThrough(ctx context.Context, path string, params url.Values) ([]models.SourceEntity, error) {
	params.Set("limit", "100")
	after := ""
	var out []models.SourceEntity

	for {
		if after != "" {
			params.Set("after", after)
		}
		resp, err := c.getList(ctx, path, params)
		if err != nil {
			return out, err
		}
		for _, rec := range resp.Results {
			if strings.TrimSpace(rec.Id) == "" {
				continue
			}
			out = append(out, models.SourceEntity{
				Id:         rec.Id,
				UpdatedAt:  rec.UpdatedAt,
				Archived:   rec.Archived,
				Properties: rec.Properties,
			})
		}
		if resp.Paging == nil || resp.Paging.Next.After == "" {
			return out, nil
		}
		after = resp.Paging.Next.After
	}
}

func (c *Client) getList(ctx context.Context, path string, params url.Values) (listResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return listResponse{}, fmt.Errorf("hubspot api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listResponse{}, err
	}
	return parsed, nil
}

func parseInt64(v string) (int64, error) {
	return strconv.ParseInt(v, 10, 64)
}
