// Package bitable implements the tabular workspace adapter against a
// Lark/Feishu Base (Bitable) style records API.
//
// All endpoints share one envelope: {"code": 0, "msg": "...", "data": {...}}.
// A non-zero code is an application error even when HTTP says 200.
package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandemsync/tandem/internal/adapter"
)

const defaultBaseURL = "https://open.larksuite.com/open-apis"

// Client talks to a Bitable records API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a Client authenticated with a tenant access token.
func New(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
	}
}

type apiRecord struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

func (a *apiRecord) toRecord() *adapter.Record {
	return &adapter.Record{ID: a.RecordID, Fields: a.Fields}
}

// CreateRecord appends one row to a table.
func (c *Client) CreateRecord(ctx context.Context, appToken, tableID string, fields map[string]any) (*adapter.Record, error) {
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records", appToken, tableID)

	var data struct {
		Record apiRecord `json:"record"`
	}
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"fields": fields}, &data); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return data.Record.toRecord(), nil
}

// UpdateRecord overwrites the given fields of one row. Fields not named
// keep their values.
func (c *Client) UpdateRecord(ctx context.Context, appToken, tableID, recordID string, fields map[string]any) (*adapter.Record, error) {
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/%s", appToken, tableID, recordID)

	var data struct {
		Record apiRecord `json:"record"`
	}
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"fields": fields}, &data); err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", recordID, err)
	}
	return data.Record.toRecord(), nil
}

// GetRecord fetches one row.
func (c *Client) GetRecord(ctx context.Context, appToken, tableID, recordID string) (*adapter.Record, error) {
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/%s", appToken, tableID, recordID)

	var data struct {
		Record apiRecord `json:"record"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", recordID, err)
	}
	return data.Record.toRecord(), nil
}

// SearchRecords returns rows matching the filter, or every row when the
// filter is empty. Pagination is followed to the end.
func (c *Client) SearchRecords(ctx context.Context, appToken, tableID string, filter map[string]any) ([]*adapter.Record, error) {
	basePath := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/search", appToken, tableID)

	body := map[string]any{}
	if len(filter) > 0 {
		body["filter"] = filter
	}

	var records []*adapter.Record
	pageToken := ""
	for {
		path := basePath + "?page_size=100"
		if pageToken != "" {
			path += "&page_token=" + pageToken
		}

		var data struct {
			Items     []apiRecord `json:"items"`
			HasMore   bool        `json:"has_more"`
			PageToken string      `json:"page_token"`
		}
		if err := c.do(ctx, http.MethodPost, path, body, &data); err != nil {
			return nil, fmt.Errorf("failed to search records: %w", err)
		}

		for i := range data.Items {
			records = append(records, data.Items[i].toRecord())
		}
		if !data.HasMore || data.PageToken == "" {
			return records, nil
		}
		pageToken = data.PageToken
	}
}

// ListTables lists the tables of an app.
func (c *Client) ListTables(ctx context.Context, appToken string) ([]*adapter.Table, error) {
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables", appToken)

	var data struct {
		Items []struct {
			TableID string `json:"table_id"`
			Name    string `json:"name"`
		} `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]*adapter.Table, 0, len(data.Items))
	for _, item := range data.Items {
		tables = append(tables, &adapter.Table{ID: item.TableID, Name: item.Name})
	}
	return tables, nil
}

// do performs one API request and unwraps the response envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bitable: HTTP %d", resp.StatusCode)
	}

	var envelope struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("bitable: %s (code %d)", envelope.Msg, envelope.Code)
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
