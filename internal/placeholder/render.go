package placeholder

import (
	"fmt"
	"strings"

	"github.com/avantifellows/curiosity-coach/internal/record"
)

// notAvailable marks a permitted key that the record itself lacks.
const notAvailable = "[Not available]"

// valueEscaper keeps rendered scalar values from breaking the quoting in the
// surrounding sentence.
var valueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Render produces the substitution text for one token. rec may be nil, meaning
// the record was never generated or never fetched; that renders the kind's
// fallback sentence. Invalid keys are omitted, permitted-but-absent keys render
// as a literal marker. Render never returns an error.
func Render(kind record.Kind, rec *record.Record, keys []string) string {
	schema := record.SchemaFor(kind)
	if schema == nil {
		return ""
	}
	if rec == nil {
		return schema.Fallback
	}
	if len(keys) == 0 {
		keys = schema.Keys()
	}

	var parts []string
	for _, key := range keys {
		if !schema.Permits(key) {
			continue
		}
		v, ok := rec.Get(key)
		if !ok {
			parts = append(parts, "`"+key+"` is "+notAvailable)
			continue
		}
		parts = append(parts, "`"+key+"` is \""+formatValue(v)+"\"")
	}
	if len(parts) == 0 {
		return ""
	}
	return schema.LeadIn + " " + strings.Join(parts, ", ") + "."
}

// formatValue flattens a record value to display text. List values join into a
// natural-language enumeration; scalars are escaped so embedded quotes cannot
// terminate the surrounding quoting.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return valueEscaper.Replace(val)
	case []string:
		return valueEscaper.Replace(strings.Join(val, ", "))
	case []any:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = fmt.Sprintf("%v", e)
		}
		return valueEscaper.Replace(strings.Join(elems, ", "))
	default:
		return valueEscaper.Replace(fmt.Sprintf("%v", val))
	}
}
