// Package initdata verifies Telegram init-data assertions carried in the
// Authorization header and extracts the caller's telegram id.
//
// Two formats are supported. Mini App (WebApp) payloads carry query_id and are
// signed with HMAC-SHA256(key="WebAppData", msg=botToken); Login Widget payloads
// are signed with SHA256(botToken). Both sign the same data-check-string.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/tglink/internal/errs"
)

const (
	webAppKey = "WebAppData"
	bearer    = "Bearer"

	fieldHash     = "hash"
	fieldQueryID  = "query_id"
	fieldUser     = "user"
	fieldID       = "id"
	fieldAuthDate = "auth_date"
)

// Authenticator checks init-data signatures against a bot token.
type Authenticator struct {
	botToken string
	maxAge   time.Duration
	now      func() time.Time
}

// Option tunes an Authenticator.
type Option func(*Authenticator)

// WithMaxAge rejects payloads whose auth_date is older than d. Zero disables the check.
func WithMaxAge(d time.Duration) Option { return func(a *Authenticator) { a.maxAge = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Authenticator) { a.now = now } }

// New constructs an Authenticator. An empty token is accepted here and reported
// as errs.ErrConfiguration on every Authenticate call.
func New(botToken string, opts ...Option) *Authenticator {
	a := &Authenticator{botToken: botToken, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate verifies the header value and returns the caller's telegram id.
func (a *Authenticator) Authenticate(header string) (string, error) {
	if a.botToken == "" {
		return "", errs.ErrConfiguration
	}
	fields, err := parseHeader(header)
	if err != nil {
		return "", err
	}
	hash := fields[fieldHash]
	if hash == "" {
		return "", errs.ErrUnauthorized
	}

	webApp := fields[fieldQueryID] != ""
	want := signature(secretKey(a.botToken, webApp), checkString(fields))
	if !hmac.Equal([]byte(want), []byte(hash)) {
		return "", errs.ErrUnauthorized
	}

	if a.maxAge > 0 {
		sec, err := strconv.ParseInt(fields[fieldAuthDate], 10, 64)
		if err != nil || a.now().Sub(time.Unix(sec, 0)) > a.maxAge {
			return "", errs.ErrUnauthorized
		}
	}

	var id string
	if webApp {
		id = userID(fields[fieldUser])
	} else {
		id = fields[fieldID]
	}
	if id == "" {
		return "", errs.ErrUnauthorized
	}
	return id, nil
}

// Sign returns fields encoded as init-data with a valid hash appended. The
// format is picked the same way Authenticate picks it (presence of query_id).
func Sign(botToken string, fields url.Values) string {
	flat := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == fieldHash || len(v) == 0 {
			continue
		}
		flat[k] = v[len(v)-1]
	}
	out := url.Values{}
	for k, v := range flat {
		out.Set(k, v)
	}
	out.Set(fieldHash, signature(secretKey(botToken, flat[fieldQueryID] != ""), checkString(flat)))
	return out.Encode()
}

func parseHeader(header string) (map[string]string, error) {
	raw := strings.TrimSpace(header)
	if scheme, rest, ok := strings.Cut(raw, " "); ok {
		if !strings.EqualFold(scheme, bearer) {
			return nil, errs.ErrUnauthorized
		}
		raw = strings.TrimSpace(rest)
	}
	if raw == "" {
		return nil, errs.ErrUnauthorized
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	// last value wins for repeated keys
	fields := make(map[string]string, len(vals))
	for k, v := range vals {
		fields[k] = v[len(v)-1]
	}
	return fields, nil
}

func secretKey(botToken string, webApp bool) []byte {
	if webApp {
		m := hmac.New(sha256.New, []byte(webAppKey))
		m.Write([]byte(botToken))
		return m.Sum(nil)
	}
	sum := sha256.Sum256([]byte(botToken))
	return sum[:]
}

// checkString renders every field except hash as key=value, sorted by key, joined by '\n'.
func checkString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != fieldHash {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func signature(key []byte, data string) string {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

// userID extracts user.id from the WebApp user JSON, keeping numeric ids verbatim.
func userID(raw string) string {
	if raw == "" {
		return ""
	}
	var u struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil || len(u.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(u.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(u.ID, &n); err != nil {
		return ""
	}
	return n.String()
}
