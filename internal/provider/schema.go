package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/simplemem/simplemem/pkg/types"
)

// ChatJSON runs a chat completion that must yield a JSON object, validates it
// against schema when one is supplied, and unmarshals the result into out.
// Models occasionally wrap JSON in markdown fences or prose despite
// instructions, so the object is extracted by brace matching first.
func (c *client) ChatJSON(ctx context.Context, system string, messages []Message, schema []byte, out any) error {
	raw, err := c.Chat(ctx, system, messages)
	if err != nil {
		return err
	}

	extracted := ExtractJSON(raw)

	if len(schema) > 0 {
		compiled, err := jsonschema.CompileString("response.schema.json", string(schema))
		if err != nil {
			return fmt.Errorf("compile response schema: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(extracted), &v); err != nil {
			return types.NewProviderError(types.ProviderPermanent,
				fmt.Errorf("completion is not valid JSON: %w", err))
		}
		if err := compiled.Validate(v); err != nil {
			return types.NewProviderError(types.ProviderPermanent,
				fmt.Errorf("completion failed schema validation: %w", err))
		}
	}

	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return types.NewProviderError(types.ProviderPermanent,
			fmt.Errorf("unmarshal completion: %w", err))
	}
	return nil
}

// ExtractJSON extracts the first complete JSON object from text that may
// contain surrounding prose or markdown code fences. When no object is
// found the input is returned unchanged and the caller's parser reports the
// failure.
func ExtractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escape {
			escape = false
			continue
		}
		if ch == '\\' {
			escape = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch ch {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text
}
