package db

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultStatementTimeoutMs = 60000
	applicationName           = "site-audit"
)

// augmentDSN adds the session settings every audits-store connection should
// carry: a statement_timeout (statementMs, or the default when not positive)
// and an application_name. Settings already present in dsn are left alone.
// Both URL and key=value DSNs are accepted.
func augmentDSN(dsn string, statementMs int) string {
	if dsn == "" {
		return ""
	}
	if statementMs <= 0 {
		statementMs = defaultStatementTimeoutMs
	}
	settings := []struct{ key, value string }{
		{"statement_timeout", strconv.Itoa(statementMs)},
		{"application_name", applicationName},
	}

	if strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://") {
		u, err := url.Parse(dsn)
		if err != nil {
			// pgx reports the malformed DSN when it opens the connection
			return dsn
		}
		q := u.Query()
		for _, s := range settings {
			if !q.Has(s.key) {
				q.Set(s.key, s.value)
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	present := make(map[string]bool)
	for _, field := range strings.Fields(dsn) {
		if key, _, ok := strings.Cut(field, "="); ok {
			present[key] = true
		}
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, s := range settings {
		if !present[s.key] {
			b.WriteString(" " + s.key + "=" + s.value)
		}
	}
	return b.String()
}
