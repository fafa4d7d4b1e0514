// Package payloadschema validates raw upstream page documents against the
// embedded per-source JSON schemas.
package payloadschema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var schemaFiles embed.FS

var pageSchemaFiles = map[string]string{
	"ted":   "ted_page.schema.json",
	"anac":  "anac_page.schema.json",
	"boamp": "boamp_page.schema.json",
}

var (
	compileOnce     sync.Once
	compiledSchemas map[string]*jsonschema.Schema
	compileErr      error
)

// ValidatePage checks one raw page document for the given source.
func ValidatePage(source string, raw []byte) error {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return fmt.Errorf("decode page JSON: %w", err)
	}

	schema, err := pageSchema(source)
	if err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Sources lists the sources that have a page schema.
func Sources() []string {
	return []string{"ted", "anac", "boamp"}
}

func pageSchema(source string) (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		compiled := make(map[string]*jsonschema.Schema, len(pageSchemaFiles))
		for name, file := range pageSchemaFiles {
			body, err := schemaFiles.ReadFile(file)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", file, err)
				return
			}
			if err := compiler.AddResource(file, bytes.NewReader(body)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", file, err)
				return
			}
			schema, err := compiler.Compile(file)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", file, err)
				return
			}
			compiled[name] = schema
		}
		compiledSchemas = compiled
	})

	if compileErr != nil {
		return nil, compileErr
	}
	schema, ok := compiledSchemas[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return nil, fmt.Errorf("no page schema for source %q", source)
	}
	return schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
