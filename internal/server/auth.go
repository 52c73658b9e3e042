package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
)

var (
	errTokenRequired = errors.New("bearer token required")
	errInvalidToken  = errors.New("invalid bearer token")
)

// Authenticator resolves the caller identity of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (callerID string, err error)
}

// StaticTokenAuthenticator accepts a fixed set of bearer tokens, each mapped to a caller id.
type StaticTokenAuthenticator struct {
	tokens map[string]string
}

func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	cp := make(map[string]string, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticTokenAuthenticator{tokens: cp}
}

func (a *StaticTokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", errTokenRequired
	}
	for known, caller := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return caller, nil
		}
	}
	return "", errInvalidToken
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID, err := s.auth.Authenticate(r)
		if err != nil {
			code := "AUTH_INVALID"
			if errors.Is(err, errTokenRequired) {
				code = "AUTH_REQUIRED"
			}
			s.writeErrorStatus(w, r, http.StatusUnauthorized, code, "Unauthorized",
				errors.Join(common.ErrUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithCallerID(r.Context(), callerID)))
	})
}
