// Package auth implements challenge-based authentication against a registry:
// parsing the WWW-Authenticate header and performing the OAuth2 token
// exchange it drives.
package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/regmirror/regmirror/types/errs"
)

type charLU byte

var charLUs [256]charLU

const (
	isSpace charLU = 1 << iota
	isAlphaNum
)

func init() {
	for c := 0; c < 256; c++ {
		charLUs[c] = 0
		if strings.ContainsRune(" \t\r\n", rune(c)) {
			charLUs[c] |= isSpace
		}
		if (rune('a') <= rune(c) && rune(c) <= rune('z')) || (rune('A') <= rune(c) && rune(c) <= rune('Z') || (rune('0') <= rune(c) && rune(c) <= rune('9'))) {
			charLUs[c] |= isAlphaNum
		}
	}
}

// challenge is the extracted contents of the WWW-Authenticate header
type challenge struct {
	authType string
	params   map[string]string
}

// BearerChallenge holds the fields of a Bearer challenge. Immutable once
// parsed, it drives construction of the OAuth request.
type BearerChallenge struct {
	Realm   string
	Service string
	Scope   string
}

// ParseBearerChallenge extracts the bearer challenge from a WWW-Authenticate
// header value. Quoted values keep embedded commas intact, so multi-action
// scopes such as "repository:repo:pull,push" survive parsing unmangled.
func ParseBearerChallenge(header string) (BearerChallenge, error) {
	bc := BearerChallenge{}
	if !strings.HasPrefix(header, "Bearer") {
		return bc, fmt.Errorf("challenge is not bearer auth: %w", errs.ErrParsingFailed)
	}
	cl, err := parseAuthHeader(header)
	if err != nil {
		return bc, err
	}
	for _, c := range cl {
		if c.authType != "bearer" {
			continue
		}
		realm, ok := c.params["realm"]
		if !ok {
			return bc, fmt.Errorf("bearer challenge missing realm: %w", errs.ErrParsingFailed)
		}
		bc.Realm = realm
		bc.Service = c.params["service"]
		bc.Scope = c.params["scope"]
		return bc, nil
	}
	return bc, fmt.Errorf("no bearer challenge found: %w", errs.ErrParsingFailed)
}

// TokenQuery reconstructs the realm with service and scope as query
// parameters, the GET form of the token request.
func (bc BearerChallenge) TokenQuery() string {
	q := bc.Realm
	sep := "?"
	if bc.Service != "" {
		q += sep + "service=" + bc.Service
		sep = "&"
	}
	if bc.Scope != "" {
		q += sep + "scope=" + bc.Scope
	}
	return q
}

// TokenQueryURL is TokenQuery with the parameters urlencoded.
func (bc BearerChallenge) TokenQueryURL() string {
	v := url.Values{}
	if bc.Service != "" {
		v.Set("service", bc.Service)
	}
	if bc.Scope != "" {
		v.Set("scope", bc.Scope)
	}
	if len(v) == 0 {
		return bc.Realm
	}
	return bc.Realm + "?" + v.Encode()
}

// parseAuthHeader parses a single WWW-Authenticate header line.
// Example values:
// Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:samalba/my-app:pull,push"
// Basic realm="GitHub Package Registry"
func parseAuthHeader(ah string) ([]challenge, error) {
	var cl []challenge
	var c *challenge
	var eb, atb, kb, vb []byte // eb is element bytes, atb auth type, kb key, vb value
	state := "string"

	for _, b := range []byte(ah) {
		switch state {
		case "string":
			if len(eb) == 0 {
				// beginning of string
				if b == '"' {
					state = "quoted"
				} else if charLUs[b]&isAlphaNum != 0 {
					// read any alphanum
					eb = append(eb, b)
				} else if charLUs[b]&isSpace != 0 {
					// ignore leading whitespace
				} else {
					// unknown leading char
					return nil, errs.ErrParsingFailed
				}
			} else {
				if charLUs[b]&isAlphaNum != 0 {
					// read any alphanum
					eb = append(eb, b)
				} else if b == '=' && len(atb) > 0 {
					// equals when authtype is defined makes this a key
					kb = eb
					eb = []byte{}
					state = "value"
				} else if charLUs[b]&isSpace != 0 {
					// space ends the element
					atb = eb
					eb = []byte{}
					c = &challenge{authType: strings.ToLower(string(atb)), params: map[string]string{}}
					cl = append(cl, *c)
				} else {
					// unknown char
					return nil, errs.ErrParsingFailed
				}
			}

		case "value":
			if charLUs[b]&isAlphaNum != 0 {
				// read any alphanum
				vb = append(vb, b)
			} else if b == '"' && len(vb) == 0 {
				// quoted value
				state = "quoted"
			} else if charLUs[b]&isSpace != 0 || b == ',' {
				// space or comma ends the value
				c.params[strings.ToLower(string(kb))] = string(vb)
				kb = []byte{}
				vb = []byte{}
				if b == ',' {
					state = "string"
				} else {
					state = "endvalue"
				}
			} else {
				// unknown char
				return nil, errs.ErrParsingFailed
			}

		case "quoted":
			if b == '"' {
				// end quoted string
				c.params[strings.ToLower(string(kb))] = string(vb)
				kb = []byte{}
				vb = []byte{}
				state = "endvalue"
			} else if b == '\\' {
				state = "escape"
			} else {
				// all other bytes in a quoted string are taken as-is
				vb = append(vb, b)
			}

		case "endvalue":
			if charLUs[b]&isSpace != 0 {
				// ignore leading whitespace
			} else if b == ',' {
				// expect a comma separator, return to start of a string
				state = "string"
			} else {
				// unknown char
				return nil, errs.ErrParsingFailed
			}

		case "escape":
			vb = append(vb, b)
			state = "quoted"

		default:
			return nil, errs.ErrParsingFailed
		}
	}

	// process any content left at end of string, and handle any unfinished sections
	switch state {
	case "string":
		if len(eb) != 0 {
			atb = eb
			c = &challenge{authType: strings.ToLower(string(atb)), params: map[string]string{}}
			cl = append(cl, *c)
		}
	case "value":
		if len(vb) != 0 {
			c.params[strings.ToLower(string(kb))] = string(vb)
		}
	case "quoted", "escape":
		return nil, errs.ErrParsingFailed
	}

	return cl, nil
}
