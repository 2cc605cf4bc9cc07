// Package source is the HTTP client for the upstream tabular API: schema
// discovery, paginated record listing, and incremental modified-since
// filtering. All request pacing goes through Pacer; nothing else in the
// repository talks to the source.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Field is one column of a discovered source table.
type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// LinkedTableID is set for record-link fields and names the referenced
	// table.
	LinkedTableID string `json:"linkedTableId,omitempty"`
}

// Table is a discovered source table. Fields preserve the source's
// declared order; that order is the sanitizer's cross-process contract.
type Table struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Record is one fetched row. Fields hold raw heterogeneous values exactly
// as decoded from the API; coercion happens downstream.
type Record struct {
	ID           string
	ModifiedTime time.Time
	Fields       map[string]any
}

// Client talks to one base of the source API.
//
// Tables are addressed by opaque table IDs, never display names: some
// tables 403 when addressed by name.
type Client struct {
	BaseURL string
	BaseID  string
	Token   string

	// PageSize per request; the API caps it at 100.
	PageSize int

	// ModifiedField, when set, names a source field carrying the record's
	// last-modified timestamp. Records without it fall back to the
	// API-level createdTime.
	ModifiedField string

	HTTPClient *http.Client
}

const defaultPageSize = 100

func (c *Client) httpc() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) pageSize() int {
	if c.PageSize > 0 && c.PageSize <= defaultPageSize {
		return c.PageSize
	}
	return defaultPageSize
}

// ListTables fetches the base's table schemas from the metadata endpoint.
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	u := fmt.Sprintf("%s/meta/bases/%s/tables", c.BaseURL, c.BaseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpc().Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list tables: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Tables []Table `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list tables: decode: %w", err)
	}
	return out.Tables, nil
}

// rawRecord matches the wire shape of one record.
type rawRecord struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type recordPage struct {
	Records []rawRecord `json:"records"`
	Offset  string      `json:"offset"`
}

// FetchRecords streams a table's records page by page, invoking fn per
// page. When since is non-nil, only records modified after it are
// requested (incremental mode).
//
// Pacing: pacer.Wait gates every request; a 429 response backs off and
// retries the same page. Exhausting retries returns *RateLimitError,
// failing only this table.
func (c *Client) FetchRecords(
	ctx context.Context,
	tableID string,
	since *time.Time,
	pacer *Pacer,
	fn func(page []Record) error,
) error {
	base := fmt.Sprintf("%s/%s/%s", c.BaseURL, c.BaseID, url.PathEscape(tableID))

	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.pageSize()))
	if since != nil {
		iso := since.UTC().Format("2006-01-02T15:04:05Z")
		params.Set("filterByFormula", fmt.Sprintf("IS_AFTER(LAST_MODIFIED_TIME(), '%s')", iso))
	}

	offset := ""
	for {
		if err := pacer.Wait(ctx); err != nil {
			return err
		}

		page, next, err := c.fetchPage(ctx, tableID, base, params, offset, pacer)
		if err != nil {
			return err
		}

		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}

		if next == "" {
			return nil
		}
		offset = next
	}
}

// fetchPage requests one page, retrying the same page on 429 with bounded
// backoff.
func (c *Client) fetchPage(
	ctx context.Context,
	tableID, base string,
	params url.Values,
	offset string,
	pacer *Pacer,
) ([]Record, string, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if offset != "" {
		q.Set("offset", offset)
	}
	u := base + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)

		resp, err := c.httpc().Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", tableID, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			ok, err := pacer.Backoff(ctx, attempt)
			if err != nil {
				return nil, "", err
			}
			if !ok {
				return nil, "", &RateLimitError{Table: tableID, Attempts: attempt + 1}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetch %s: status %d: %s", tableID, resp.StatusCode, body)
		}

		var page recordPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: decode: %w", tableID, err)
		}

		out := make([]Record, 0, len(page.Records))
		for _, r := range page.Records {
			out = append(out, c.toRecord(r))
		}
		return out, page.Offset, nil
	}
}

// toRecord resolves the record's modified timestamp: the configured
// last-modified field when present and parsable, otherwise createdTime.
func (c *Client) toRecord(r rawRecord) Record {
	rec := Record{ID: r.ID, ModifiedTime: r.CreatedTime, Fields: r.Fields}
	if c.ModifiedField == "" {
		return rec
	}
	raw, ok := r.Fields[c.ModifiedField]
	if !ok {
		return rec
	}
	s, ok := raw.(string)
	if !ok {
		return rec
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		rec.ModifiedTime = ts
	}
	return rec
}
