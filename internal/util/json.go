package util

import (
	"bytes"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FixJSON converts non-standard JSON that uses single quotes for
// strings into RFC 8259-compliant JSON. Models occasionally emit tool
// arguments in this shape.
//
//	{'a': 1, 'b': '2'}    => {"a": 1, "b": "2"}
//	{"t": 'He said "hi"'} => {"t": "He said \"hi\""}
//
// Existing double-quoted strings are preserved as-is; inside converted
// strings double quotes are escaped and \' becomes a literal quote.
func FixJSON(input string) string {
	var out bytes.Buffer

	inDouble := false
	inSingle := false
	escaped := false

	writeConverted := func(r rune) {
		if r == '"' {
			out.WriteByte('\\')
			out.WriteByte('"')
			return
		}
		out.WriteRune(r)
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inDouble {
			out.WriteRune(r)
			if escaped {
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			if r == '"' {
				inDouble = false
			}
			continue
		}

		if inSingle {
			if escaped {
				escaped = false
				switch r {
				case 'n', 'r', 't', 'b', 'f', '/', '"':
					out.WriteByte('\\')
					out.WriteRune(r)
				case '\\':
					out.WriteString(`\\`)
				case '\'':
					out.WriteRune('\'')
				case 'u':
					out.WriteString(`\u`)
					for k := 0; k < 4 && i+1 < len(runes); k++ {
						peek := runes[i+1]
						if (peek >= '0' && peek <= '9') || (peek >= 'a' && peek <= 'f') || (peek >= 'A' && peek <= 'F') {
							out.WriteRune(peek)
							i++
						} else {
							break
						}
					}
				default:
					out.WriteByte('\\')
					out.WriteRune(r)
				}
				continue
			}

			if r == '\\' {
				escaped = true
				continue
			}
			if r == '\'' {
				out.WriteByte('"')
				inSingle = false
				continue
			}
			writeConverted(r)
			continue
		}

		if r == '"' {
			inDouble = true
			out.WriteRune(r)
			continue
		}
		if r == '\'' {
			inSingle = true
			out.WriteByte('"')
			continue
		}
		out.WriteRune(r)
	}

	// Close a dangling single-quoted string for best-effort validity.
	if inSingle {
		out.WriteByte('"')
	}

	return out.String()
}

// SanitizeSchemaForGemini strips JSON Schema constructs the Gemini
// function declaration endpoint rejects and collapses type arrays like
// ["string","null"] to a single type.
func SanitizeSchemaForGemini(schemaJSON string) string {
	fieldsToRemove := []string{
		"additionalProperties",
		"$schema",
		"allOf",
		"anyOf",
		"oneOf",
		"exclusiveMinimum",
		"exclusiveMaximum",
		"patternProperties",
		"dependencies",
	}

	result := schemaJSON
	for _, field := range fieldsToRemove {
		result, _ = sjson.Delete(result, field)
	}

	var typePaths []string
	walkField(gjson.Parse(result), "", "type", &typePaths)
	for _, path := range typePaths {
		value := gjson.Get(result, path)
		if !value.IsArray() {
			continue
		}
		preferred := ""
		for _, t := range value.Array() {
			s := t.String()
			if s == "string" {
				preferred = s
				break
			}
			if s != "null" && preferred == "" {
				preferred = s
			}
		}
		if preferred != "" {
			result, _ = sjson.Set(result, path, preferred)
		}
	}

	nested := []string{"allOf", "anyOf", "oneOf", "exclusiveMinimum", "exclusiveMaximum"}
	var toDelete []string
	for _, field := range nested {
		walkField(gjson.Parse(result), "", field, &toDelete)
	}
	for _, path := range toDelete {
		result, _ = sjson.Delete(result, path)
	}

	return result
}

// walkField collects dot-notation paths of every occurrence of field.
func walkField(value gjson.Result, path, field string, paths *[]string) {
	if value.Type != gjson.JSON {
		return
	}
	value.ForEach(func(key, val gjson.Result) bool {
		childPath := key.String()
		if path != "" {
			childPath = path + "." + key.String()
		}
		if key.String() == field {
			*paths = append(*paths, childPath)
		}
		walkField(val, childPath, field, paths)
		return true
	})
}
