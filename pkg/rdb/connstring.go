package rdb

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ConnInfo is a structured PostGIS connection string. Unlike a bare string,
// its String/LogValue form always masks the password, so redaction happens
// at the type level rather than via best-effort regex scrubbing of error
// messages.
type ConnInfo struct {
	raw string
}

// NewConnInfo wraps a libpq-style connection string or URL.
func NewConnInfo(raw string) ConnInfo {
	return ConnInfo{raw: raw}
}

// Raw returns the unredacted connection string, for handing to the driver.
// Never log or print the result of this call.
func (c ConnInfo) Raw() string {
	return c.raw
}

// String implements fmt.Stringer with the password masked.
func (c ConnInfo) String() string {
	return redact(c.raw)
}

// LogValue lets slog.Logger print ConnInfo safely without an explicit
// .String() call at every call site.
func (c ConnInfo) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// redact masks a password appearing either as a libpq "password=..." pair or
// as userinfo in a postgres:// URL.
func redact(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "*****")
			// url.URL.String percent-escapes '*' in userinfo; restore the
			// literal placeholder.
			return strings.Replace(u.String(), ":%2A%2A%2A%2A%2A@", ":*****@", 1)
		}
	}

	fields := strings.Fields(raw)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=*****"
		}
	}
	return strings.Join(fields, " ")
}

var (
	_ fmt.Stringer   = ConnInfo{}
	_ slog.LogValuer = ConnInfo{}
)
