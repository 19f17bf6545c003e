package token

import (
	"errors"
	"net/url"
)

const redacted = "REDACTED"

// Redact replaces the token query parameter and any userinfo in rawURL so the
// result is safe to log. Unparseable input is replaced entirely.
func Redact(rawURL, param string) string {
	if rawURL == "" {
		return ""
	}
	if param == "" {
		param = DefaultParam
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}

	if u.User != nil {
		u.User = url.User(redacted)
	}

	q := u.Query()
	if q.Has(param) {
		q.Set(param, redacted)
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// RedactError rewrites, in place, the URL of every *url.Error in err's chain.
// net/http puts the full request URL into its errors.
func RedactError(err error, param string) error {
	for e := err; e != nil; {
		var ue *url.Error
		if !errors.As(e, &ue) {
			break
		}
		ue.URL = Redact(ue.URL, param)
		e = ue.Err
	}
	return err
}
