package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// Principal is the authenticated caller.
type Principal struct {
	UserUID string
	// Admin may read and write any cart.
	Admin bool
}

func (p Principal) CanAccess(uid string) bool {
	return p.Admin || p.UserUID == uid
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// AdminUID in a static token table grants access to every cart.
const AdminUID = "*"

// StaticVerifier checks tokens against a fixed token -> uid table. It is
// meant for development and tests.
type StaticVerifier struct {
	tokens map[string]string
}

func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	copied := make(map[string]string, len(tokens))
	for token, uid := range tokens {
		copied[token] = uid
	}
	return &StaticVerifier{tokens: copied}
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Principal, error) {
	uid, ok := v.tokens[token]
	if !ok || token == "" {
		return Principal{}, ErrInvalidToken
	}
	if uid == AdminUID {
		return Principal{Admin: true}, nil
	}
	return Principal{UserUID: uid}, nil
}

// IDTokenVerifier is the part of the Firebase auth client the server uses.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

var _ IDTokenVerifier = (*auth.Client)(nil)

// FirebaseVerifier accepts Firebase ID tokens; the token's uid owns the cart.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

func NewFirebaseVerifier(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Principal{UserUID: decoded.UID}, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate verifies the caller and checks it may access the {uid} cart.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, r, ErrMissingToken)
			return
		}
		p, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !p.CanAccess(pathParam(r, "uid")) {
			s.writeError(w, r, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}
