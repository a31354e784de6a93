package core

import "net/http"

// SessionCookieName is the fixed cookie carrying the signed session token.
const SessionCookieName = "session_token"

// SessionCookie wraps a signed token into the session cookie. Secure is set
// only for production so local tooling over plain HTTP keeps working.
func SessionCookie(token string, production bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie returns a cookie that forces immediate client-side
// deletion: same name and attributes, empty value, Max-Age=0 on the wire.
func ClearSessionCookie(production bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
}
