package logging

import (
	"os"
	"regexp"

	"go.uber.org/zap/zapcore"
)

// The PII patterns below cover email, phone, IPv4, and URL query
// strings. This is hand-written rather than pulled from a dependency —
// no available library implements this exact set of domain-specific
// redaction rules, so regexp is the right, boring tool.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[-. ]?)?\(?\d{2,4}\)?[-. ]?\d{3,4}[-. ]?\d{3,4}`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	urlParams    = regexp.MustCompile(`(https?://[^\s?]+)\?[^\s]*`)
)

// Redact strips email, phone, IPv4, and URL query-string PII from s.
// It is exported so callers that build log lines manually (outside the
// Logger interface) can still scrub text before it lands anywhere.
func Redact(s string) string {
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = urlParams.ReplaceAllString(s, "$1?[PARAMS]")
	s = ipv4Pattern.ReplaceAllString(s, "[IP]")
	s = phonePattern.ReplaceAllString(s, "[PHONE]")
	return s
}

// redactingCore wraps another zapcore.Core and scrubs the message and
// every string-valued field before handing the entry to the wrapped
// core's Write.
type redactingCore struct {
	zapcore.Core
}

func (c redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return redactingCore{c.Core.With(redactFields(fields))}
}

func (c redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Core.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Redact(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = Redact(f.String)
		}
		out[i] = f
	}
	return out
}

func newStderrSyncer() *os.File {
	return os.Stderr
}
