// Schema Generator
//
// Generates JSON Schema files for the wire types of the case service so the
// dashboard and webhook consumers can validate what they receive.
//
// Usage:
//
//	go run ./cmd/schema-gen -out ./schemas
//
// Output:
//
//	schemas/tasks.json
//	schemas/webhook.json
//	schemas/records.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/recoverydesk/case-service/internal/handlers"
	"github.com/recoverydesk/case-service/internal/types"
	"github.com/recoverydesk/case-service/internal/webhook"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

var groups = []SchemaGroup{
	{
		Name: "tasks",
		Types: []any{
			handlers.UploadResponse{},
			handlers.StartResponse{},
			handlers.HealthResponse{},
			types.Task{},
			types.TaskResult{},
			types.Snapshot{},
		},
		Output: "tasks.json",
	},
	{
		Name: "webhook",
		Types: []any{
			webhook.Payload{},
		},
		Output: "webhook.json",
	},
	{
		Name: "records",
		Types: []any{
			types.Customer{},
			types.Case{},
		},
		Output: "records.json",
	},
}

func main() {
	outputDir := flag.String("out", "schemas", "output directory")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	for _, group := range groups {
		schema := generateGroupSchema(group)
		outputPath := filepath.Join(*outputDir, group.Output)

		if err := writeSchema(schema, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", group.Output, err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outputPath)
	}

	fmt.Println("Schema generation complete!")
}

// decodedRowSchema describes DecodedRow as it is marshaled: a flat object
// of header name to cell text
func decodedRowSchema(t reflect.Type) *jsonschema.Schema {
	if t != reflect.TypeOf(types.DecodedRow{}) {
		return nil
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Description:          "One data row keyed by header name",
		AdditionalProperties: &jsonschema.Schema{Type: "string"},
	}
}

// generateGroupSchema creates a combined schema with all types in a group
func generateGroupSchema(group SchemaGroup) map[string]any {
	reflector := &jsonschema.Reflector{
		Mapper: decodedRowSchema,
	}

	definitions := make(map[string]any)
	for _, t := range group.Types {
		schema := reflector.Reflect(t)
		for name, def := range schema.Definitions {
			definitions[name] = def
		}
	}

	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         fmt.Sprintf("https://schemas.recoverydesk.io/case-service/%s.json", group.Name),
		"title":       fmt.Sprintf("%s API Types", capitalize(group.Name)),
		"description": fmt.Sprintf("JSON Schema for %s types generated from Go structs", group.Name),
		"$defs":       definitions,
	}
}

// writeSchema writes a schema to a JSON file
func writeSchema(schema map[string]any, path string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
