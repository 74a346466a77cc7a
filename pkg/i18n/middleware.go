package i18n

import (
	"net/http"
	"strings"
)

// LocaleParam overrides Accept-Language. Event streams and preview URLs are
// opened by the browser without custom headers.
const LocaleParam = "lang"

// Middleware resolves the request locale and stores it in the context.
// A supported ?lang= wins over Accept-Language; otherwise French.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := requestLocale(r)
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}

func requestLocale(r *http.Request) string {
	if lang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(LocaleParam))); IsSupported(lang) {
		return lang
	}
	return ParseAcceptLanguage(r.Header.Get("Accept-Language"))
}
