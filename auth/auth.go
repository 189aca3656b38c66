// Package auth builds the LOGON payloads for the authentication schemes
// spec.md §6 enumerates: none, basic, bearer, kerberos, and a generic
// custom form.
package auth

// Token is the map LOGON sends as its "auth" field (spec.md §4.3).
type Token struct {
	scheme string
	data   map[string]any
}

// Data returns the LOGON auth dictionary.
func (t Token) Data() map[string]any {
	out := make(map[string]any, len(t.data)+1)
	for k, v := range t.data {
		out[k] = v
	}
	out["scheme"] = t.scheme
	return out
}

// None builds the no-credentials scheme.
func None() Token {
	return Token{scheme: "none"}
}

// Basic builds principal+credentials authentication, with an optional realm.
func Basic(principal, credentials, realm string) Token {
	data := map[string]any{
		"principal":   principal,
		"credentials": credentials,
	}
	if realm != "" {
		data["realm"] = realm
	}
	return Token{scheme: "basic", data: data}
}

// Bearer builds token-based authentication.
func Bearer(token string) Token {
	return Token{scheme: "bearer", data: map[string]any{"credentials": token}}
}

// Kerberos builds ticket-based authentication.
func Kerberos(ticket string) Token {
	return Token{scheme: "kerberos", data: map[string]any{"credentials": ticket}}
}

// Custom builds an arbitrary scheme with the given principal, credentials,
// and extra properties merged in.
func Custom(scheme, principal, credentials, realm string, properties map[string]any) Token {
	data := make(map[string]any, len(properties)+3)
	for k, v := range properties {
		data[k] = v
	}
	if principal != "" {
		data["principal"] = principal
	}
	if credentials != "" {
		data["credentials"] = credentials
	}
	if realm != "" {
		data["realm"] = realm
	}
	return Token{scheme: scheme, data: data}
}
