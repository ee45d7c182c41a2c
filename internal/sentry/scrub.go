// Package sentry scrubs Sentry events so tokens, OAuth codes and password
// hashes never leave the server.
package sentry

import (
	"net/url"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveHeaders are HTTP headers that should be redacted from Sentry events.
var sensitiveHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

// sensitiveKeys are field names that may contain sensitive data in tags,
// breadcrumb metadata or query strings.
var sensitiveKeys = map[string]bool{
	"password":               true,
	"passwordHash":           true,
	"hostPortalPasswordHash": true,
	"token":                  true,
	"hostToken":              true,
	"sessionToken":           true,
	"access_token":           true,
	"refresh_token":          true,
	"code":                   true,
	"state":                  true,
	"secret":                 true,
	"jwt":                    true,
	"authorization":          true,
	"cookie":                 true,
}

// ScrubEvent removes sensitive data from a Sentry event before it is sent.
// It redacts sensitive headers and query parameters, strips request bodies,
// and scrubs tags and breadcrumbs.
func ScrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for header := range event.Request.Headers {
			if sensitiveHeaders[header] {
				event.Request.Headers[header] = filtered
			}
		}
		// Request bodies carry password hashes and tracks; drop them whole.
		event.Request.Data = ""
		event.Request.QueryString = scrubQuery(event.Request.QueryString)
		event.Request.Cookies = ""
	}

	for key := range event.Tags {
		if sensitiveKeys[key] {
			event.Tags[key] = filtered
		}
	}

	for i := range event.Breadcrumbs {
		for key := range event.Breadcrumbs[i].Data {
			if sensitiveKeys[key] {
				event.Breadcrumbs[i].Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction applies the same scrubbing logic to transaction events.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

// scrubQuery filters sensitive parameters, e.g. the OAuth code on /callback.
// Unparseable query strings are dropped.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	for key := range values {
		if sensitiveKeys[key] {
			values[key] = []string{filtered}
		}
	}
	return values.Encode()
}
