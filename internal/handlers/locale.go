package handlers

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/baqala/storefront/internal/domain"
	"github.com/baqala/storefront/internal/platform/auth"
	"github.com/baqala/storefront/internal/platform/requestctx"
)

var supportedLocales = []language.Tag{
	language.Arabic, // default: first entry wins when nothing matches
	language.English,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// LocaleMiddleware negotiates the display locale from the customer's profile
// locale and the Accept-Language header, in that order.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var preferred []string
		if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Locale != "" {
			preferred = append(preferred, identity.Locale)
		}
		if accept := r.Header.Get("Accept-Language"); accept != "" {
			preferred = append(preferred, accept)
		}
		locale := negotiateLocale(preferred...)
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), locale)))
	})
}

func negotiateLocale(preferred ...string) string {
	if len(preferred) == 0 {
		return domain.DefaultLocale
	}
	_, index := language.MatchStrings(localeMatcher, preferred...)
	base, _ := supportedLocales[index].Base()
	return base.String()
}
