package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://avatar-oracle-book.local/schemas/"

var schemaFiles = map[string]string{
	TypeHello:         "hello.schema.json",
	TypeWelcome:       "welcome.schema.json",
	TypeRandomRequest: "random_request.schema.json",
	TypeFulfill:       "fulfill.schema.json",
	TypeFulfillAck:    "fulfill_ack.schema.json",
	TypeEvent:         "event.schema.json",
	TypeEventBatchReq: "event_batch_req.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemasErr = err
		return
	}
	for _, e := range ents {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(raw)); err != nil {
			schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
			return
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemaFiles))
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		out[typ] = s
	}
	schemas = out
}

// HasSchema reports whether messages of msgType are schema checked.
func HasSchema(msgType string) bool {
	_, ok := schemaFiles[msgType]
	return ok
}

// Validate checks raw against the schema for msgType.
func Validate(msgType string, raw []byte) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[msgType]
	if !ok {
		return fmt.Errorf("protocol: no schema for %q", msgType)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", msgType, err)
	}
	return s.Validate(v)
}
