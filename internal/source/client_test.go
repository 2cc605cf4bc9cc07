package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestPacer() *Pacer {
	p := NewPacer(0)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestFetchRecordsPaginates(t *testing.T) {
	var gotOffsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		off := r.URL.Query().Get("offset")
		gotOffsets = append(gotOffsets, off)
		switch off {
		case "":
			fmt.Fprint(w, `{"records":[{"id":"rec1","createdTime":"2025-06-01T00:00:00Z","fields":{"Name":"a"}}],"offset":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"records":[{"id":"rec2","createdTime":"2025-06-02T00:00:00Z","fields":{"Name":"b"}}]}`)
		default:
			t.Errorf("unexpected offset %q", off)
		}
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BaseID: "appX", Token: "tok"}

	var ids []string
	err := c.FetchRecords(context.Background(), "tblY", nil, newTestPacer(), func(page []Record) error {
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}

	if len(ids) != 2 || ids[0] != "rec1" || ids[1] != "rec2" {
		t.Fatalf("ids = %v, want [rec1 rec2]", ids)
	}
	if len(gotOffsets) != 2 || gotOffsets[1] != "page2" {
		t.Fatalf("offsets = %v", gotOffsets)
	}
}

func TestFetchRecordsIncrementalFilter(t *testing.T) {
	var gotFormula string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		fmt.Fprint(w, `{"records":[]}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BaseID: "appX", Token: "tok"}
	since := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	err := c.FetchRecords(context.Background(), "tblY", &since, newTestPacer(), func([]Record) error {
		t.Fatal("empty table should not invoke page callback")
		return nil
	})
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}

	want := "IS_AFTER(LAST_MODIFIED_TIME(), '2025-06-01T08:30:00Z')"
	if gotFormula != want {
		t.Fatalf("filterByFormula = %q, want %q", gotFormula, want)
	}
}

func TestFetchRecordsRetriesOn429(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"records":[{"id":"rec1","createdTime":"2025-06-01T00:00:00Z","fields":{}}]}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BaseID: "appX", Token: "tok"}

	var n int
	err := c.FetchRecords(context.Background(), "tblY", nil, newTestPacer(), func(page []Record) error {
		n += len(page)
		return nil
	})
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}
	if hits != 3 || n != 1 {
		t.Fatalf("hits=%d n=%d, want 3 attempts and 1 record", hits, n)
	}
}

func TestFetchRecordsRateLimitExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BaseID: "appX", Token: "tok"}
	p := newTestPacer()
	p.MaxRetries = 2

	err := c.FetchRecords(context.Background(), "tblY", nil, p, func([]Record) error { return nil })
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want *RateLimitError", err)
	}
	if rle.Table != "tblY" {
		t.Fatalf("rle.Table = %q", rle.Table)
	}
}

func TestModifiedFieldFallback(t *testing.T) {
	c := &Client{ModifiedField: "Last Modified"}

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	modified := "2025-06-15T12:00:00Z"

	rec := c.toRecord(rawRecord{
		ID:          "rec1",
		CreatedTime: created,
		Fields:      map[string]any{"Last Modified": modified},
	})
	if rec.ModifiedTime.Format(time.RFC3339) != modified {
		t.Fatalf("ModifiedTime = %v, want %v", rec.ModifiedTime, modified)
	}

	rec = c.toRecord(rawRecord{ID: "rec2", CreatedTime: created, Fields: map[string]any{}})
	if !rec.ModifiedTime.Equal(created) {
		t.Fatalf("ModifiedTime = %v, want createdTime fallback", rec.ModifiedTime)
	}
}

func TestListTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/meta/bases/appX/tables") {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"tables":[{"id":"tbl1","name":"Customers","fields":[{"id":"fld1","name":"Name","type":"singleLineText"}]}]}`)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BaseID: "appX", Token: "tok"}
	tables, err := c.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if len(tables) != 1 || tables[0].ID != "tbl1" || len(tables[0].Fields) != 1 {
		t.Fatalf("tables = %+v", tables)
	}
}
