package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// configSchema reflects Config into a JSON Schema document the same way
// dittofs's own `config schema` command reflects its config struct:
// invopop/jsonschema with DoNotReference so the whole tree is inlined
// rather than split across $defs, which keeps --help-config's output a
// single self-contained document. FieldNameTag is set to "mapstructure"
// since that's the tag Config's fields actually carry (no json tags).
func configSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "mapstructure",
	}
	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "zappend configuration"
	schema.Description = "Configuration schema for a zappend cube append run"
	// invopop has no notion of our validator tags; target_dir is the one
	// field Validate() always requires regardless of config source.
	schema.Required = []string{"target_dir"}
	return schema
}

// RenderHelpJSON renders the schema as JSON for `--help-config json`.
func RenderHelpJSON() (string, error) {
	b, err := json.MarshalIndent(configSchema(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RenderHelpMarkdown renders the schema as a Markdown table for
// `--help-config md`, flattening the same inlined property tree
// RenderHelpJSON serializes.
func RenderHelpMarkdown() string {
	schema := configSchema()
	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	var b strings.Builder
	b.WriteString("| Path | Type | Required |\n")
	b.WriteString("|---|---|---|\n")
	walkSchema(schema.Properties, "", required, &b)
	return b.String()
}

// walkSchema flattens nested object properties into dotted paths, the
// markdown table's equivalent of the JSON schema's own nesting.
func walkSchema(props *orderedmap.OrderedMap[string, *jsonschema.Schema], prefix string, topRequired map[string]bool, b *strings.Builder) {
	if props == nil {
		return
	}
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if prop.Properties != nil && prop.Properties.Len() > 0 {
			walkSchema(prop.Properties, path, topRequired, b)
			continue
		}
		isRequired := prefix == "" && topRequired[name]
		fmt.Fprintf(b, "| `%s` | `%s` | %v |\n", path, schemaType(prop), isRequired)
	}
}

func schemaType(s *jsonschema.Schema) string {
	if s.Type != "" {
		return s.Type
	}
	if s.Items != nil {
		return "array"
	}
	return "object"
}
