package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SchemaRegistry resolves the schema id written into each framed record.
type SchemaRegistry interface {
	EnsureSchema(ctx context.Context, subject string, schema string) (int, error)
}

// StaticSchema is a SchemaRegistry that always answers with the same id, for
// deployments without a registry.
type StaticSchema int

// EnsureSchema implements SchemaRegistry.
func (s StaticSchema) EnsureSchema(context.Context, string, string) (int, error) {
	return int(s), nil
}

const schemaRegistryContentType = "application/vnd.schemaregistry.v1+json"

var errSchemaNotRegistered = errors.New("schema not registered")

// SchemaRegistryClient talks to a Confluent-compatible registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client with a 10s request timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the id of schema under subject, registering it as a
// new version when the registry does not know this exact schema yet. A
// different latest version under the same subject does not match.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	subjectPath := "/subjects/" + url.PathEscape(subject)

	id, err := c.postSchema(ctx, subjectPath, schema)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, errSchemaNotRegistered) {
		return 0, fmt.Errorf("look up %s: %w", subject, err)
	}

	id, err = c.postSchema(ctx, subjectPath+"/versions", schema)
	if err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	return id, nil
}

// postSchema sends a JSON schema to path and decodes the returned id. Both
// the lookup and the register endpoints share this request and response shape.
func (c *SchemaRegistryClient) postSchema(ctx context.Context, path, schema string) (int, error) {
	body, err := json.Marshal(struct {
		SchemaType string `json:"schemaType"`
		Schema     string `json:"schema"`
	}{SchemaType: "JSON", Schema: schema})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", schemaRegistryContentType)
	req.Header.Set("Accept", schemaRegistryContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, errSchemaNotRegistered
	}
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode registry response: %w", err)
	}
	return out.ID, nil
}
