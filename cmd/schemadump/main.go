// schemadump prints the canonical mapping the sync would use: discovered
// tables, sanitized column names, field classes, junction tables, and any
// collision flags. Run it before pinning overrides or after upstream
// schema changes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"tablesync/internal/config"
	"tablesync/internal/schema"
	"tablesync/internal/source"
)

type fieldDump struct {
	Source    string `json:"source"`
	Canonical string `json:"canonical"`
	Class     string `json:"class"`
	Junction  string `json:"junction,omitempty"`
}

type tableDump struct {
	SourceID   string      `json:"source_id"`
	SourceName string      `json:"source_name"`
	Name       string      `json:"name"`
	Fields     []fieldDump `json:"fields"`
	Collisions []string    `json:"collisions,omitempty"`
}

func main() {
	var mappingPath string
	flag.StringVar(&mappingPath, "mapping", "", "mapping JSON path (overrides TABLESYNC_MAPPING_FILE)")
	flag.Parse()

	settings, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}
	if mappingPath != "" {
		settings.MappingPath = mappingPath
	}
	mapping, err := config.LoadMapping(settings.MappingPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	client := &source.Client{
		BaseURL: settings.SourceBaseURL,
		BaseID:  settings.BaseID,
		Token:   settings.Token,
	}
	tables, err := client.ListTables(context.Background())
	if err != nil {
		fatalf("discover: %v", err)
	}

	mappings, err := schema.Build(tables, mapping.Overrides)
	if err != nil {
		fatalf("resolve: %v", err)
	}

	out := make([]tableDump, 0, len(mappings))
	for _, m := range mappings {
		td := tableDump{
			SourceID:   m.SourceTableID,
			SourceName: m.SourceName,
			Name:       m.Name,
		}
		for _, f := range m.Fields {
			fd := fieldDump{
				Source:    f.SourceName,
				Canonical: f.CanonicalName,
				Class:     f.Class.Kind.String(),
			}
			if f.LinkedTableID != "" {
				fd.Junction = m.JunctionTable(f)
			}
			td.Fields = append(td.Fields, fd)
		}
		for _, c := range m.Collisions {
			td.Collisions = append(td.Collisions,
				fmt.Sprintf("%q collides on %s, assigned %s; pin an override", c.SourceName, c.Base, c.Canonical))
		}
		out = append(out, td)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatalf("encode: %v", err)
	}
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
