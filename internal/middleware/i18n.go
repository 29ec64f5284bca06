package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Locales matches request hints against the supported locales. The first
// supported locale is the fallback.
type Locales struct {
	names   []string
	matcher language.Matcher
}

func NewLocales(supported []string) *Locales {
	var (
		names []string
		tags  []language.Tag
	)
	for _, s := range supported {
		tag, err := language.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		names = append(names, tag.String())
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		names, tags = []string{"en"}, []language.Tag{language.English}
	}
	return &Locales{names: names, matcher: language.NewMatcher(tags)}
}

// Default returns the fallback locale.
func (l *Locales) Default() string { return l.names[0] }

// Match returns the supported locale closest to the given tags.
func (l *Locales) Match(tags ...language.Tag) (string, bool) {
	if len(tags) == 0 {
		return l.Default(), false
	}
	_, idx, conf := l.matcher.Match(tags...)
	if conf == language.No {
		return l.Default(), false
	}
	return l.names[idx], true
}

// I18N stores the request locale and a best-effort country in the context.
func I18N(locales *Locales, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, locales, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// detectLocale prefers X-Locale, then Accept-Language, then the language
// most spoken in the country.
func detectLocale(r *http.Request, locales *Locales, country string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, err := language.Parse(v); err == nil {
			if locale, ok := locales.Match(tag); ok {
				return locale
			}
		}
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		if locale, ok := locales.Match(tags...); ok {
			return locale
		}
	}
	if country != "" {
		if region, err := language.ParseRegion(country); err == nil {
			if tag, err := language.Compose(language.Und, region); err == nil {
				if locale, ok := locales.Match(tag); ok {
					return locale
				}
			}
		}
	}
	return locales.Default()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// localeRegion returns the first explicitly written region, ignoring regions
// x/text would only infer.
func localeRegion(accept string) string {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
