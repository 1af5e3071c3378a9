package placeholder

import (
	"strings"

	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/record"
)

// Injector substitutes placeholder tokens in prompt templates. It holds no
// state beyond a logger and is safe for concurrent use.
type Injector struct {
	logger *zap.Logger
}

// NewInjector creates an Injector.
func NewInjector(logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{logger: logger}
}

// Inject replaces every recognized placeholder in template with its rendering
// against the supplied records. A kind missing from records behaves the same as
// a nil record. Templates without placeholders come back unchanged, and Inject
// never fails: a stale or malformed template degrades to fallback text instead
// of breaking the conversation flow.
func (in *Injector) Inject(template string, records map[record.Kind]*record.Record) string {
	tokens := Extract(template)
	if len(tokens) == 0 {
		return template
	}

	out := template
	for _, tok := range tokens {
		rec := records[tok.Kind]
		if rec == nil {
			in.logger.Debug("placeholder record unavailable, using fallback",
				zap.String("kind", string(tok.Kind)),
				zap.String("token", tok.Raw))
		}
		out = strings.ReplaceAll(out, tok.Raw, Render(tok.Kind, rec, tok.Keys))
	}

	if strings.Contains(out, openDelim) {
		in.logger.Debug("template contains unresolved placeholder text",
			zap.String("template_head", head(template, 48)))
	}
	return out
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
