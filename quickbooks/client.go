package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// WriteRequest asks the target system to create or update one entity. The
// executor does not know the target's object model beyond id-in, id-out.
type WriteRequest struct {
	EntityType     models.EntityType `json:"entityType"`
	ExternalId     string            `json:"externalId"`
	TargetEntityId string            `json:"targetEntityId"`
	Payload        map[string]any    `json:"payload"`
}

type WriteResult struct {
	TargetId string `json:"targetId"`
}

type Client struct {
	baseURL      string
	token        string
	realmId      string
	minorVersion string
	http         *http.Client
	limiter      <-chan time.Time
}

func NewClient(token string, realmId string) (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("QUICKBOOKS_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://quickbooks.api.intuit.com"
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("quickbooks access token is empty")
	}
	if strings.TrimSpace(realmId) == "" {
		return nil, errors.New("quickbooks realm id is empty")
	}
	minorVersion := strings.TrimSpace(os.Getenv("QUICKBOOKS_MINOR_VERSION"))
	if minorVersion == "" {
		minorVersion = "65"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("QUICKBOOKS_RATE_LIMIT_PER_MIN")); v != "" {
		if n, perr := parseInt64(v); perr == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		realmId:      realmId,
		minorVersion: minorVersion,
		http:         &http.Client{Timeout: 30 * time.Second},
		limiter:      time.Tick(interval),
	}, nil
}

func entityResource(entityType models.EntityType) string {
	switch entityType {
	case models.EntityTypeContact, models.EntityTypeCompany:
		return "customer"
	case models.EntityTypeInvoice, models.EntityTypeLineItem:
		// Line items are written through their parent invoice.
		return "invoice"
	}
	return ""
}

// WriteEntity performs one create-or-update against the target system and
// returns the target-assigned id.
func (c *Client) WriteEntity(ctx context.Context, req WriteRequest) (WriteResult, error) {
	resource := entityResource(req.EntityType)
	if resource == "" {
		return WriteResult{}, fmt.Errorf("unsupported entity type %q", req.EntityType)
	}

	body := req.Payload
	if body == nil {
		body = map[string]any{}
	}
	if req.TargetEntityId != "" {
		body["Id"] = req.TargetEntityId
		body["sparse"] = true
	}

	params := url.Values{}
	params.Set("minorversion", c.minorVersion)
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s?%s", c.baseURL, c.realmId, resource, params.Encode())

	var parsed map[string]json.RawMessage
	if err := c.post(ctx, endpoint, body, &parsed); err != nil {
		return WriteResult{}, err
	}

	// Response envelope keys the object by its capitalized resource name.
	for key, raw := range parsed {
		if strings.EqualFold(key, resource) {
			var obj struct {
				Id string `json:"Id"`
			}
			if err := json.Unmarshal(raw, &obj); err == nil && obj.Id != "" {
				return WriteResult{TargetId: obj.Id}, nil
			}
		}
	}
	return WriteResult{}, errors.New("quickbooks response did not contain an entity id")
}

func (c *Client) post(ctx context.Context, endpoint string, body any, dest any) error {
	<-c.limiter
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection resets are retryable.
		return &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if dest != nil {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return err
		}
	}
	return nil
}
