package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// Роли сотрудников back office.
const (
	RoleSalesAssistance = "SALES_ASSISTANCE"
	RoleAdmin           = "ADMIN"
	RoleSuperAdmin      = "SUPER_ADMIN"
)

// Identity: аутентифицированный вызывающий.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole проверяет роль без учёта регистра.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Claims: полезная нагрузка bearer-токена.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type identityKey struct{}

// IdentityFromContext возвращает вызывающего, положенного Authenticator.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Authenticator проверяет HS256-токены, выпущенные сервисом аутентификации.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	logger *log.Entry
}

// NewAuthenticator создаёт Authenticator с общим секретом.
func NewAuthenticator(secret string, logger *log.Entry) *Authenticator {
	if logger == nil {
		logger = log.WithField("component", "http-auth")
	}
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		logger: logger,
	}
}

// Verify разбирает токен и возвращает Identity.
func (a *Authenticator) Verify(raw string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, fmt.Errorf("%w: signing secret is not configured", domain.ErrUnauthenticated)
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}

	return Identity{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// Middleware требует валидный bearer-токен.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, a.logger, domain.ErrUnauthenticated)
			return
		}

		identity, err := a.Verify(raw)
		if err != nil {
			a.logger.WithError(err).Debug("token rejected")
			writeError(w, r, a.logger, domain.ErrUnauthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// RequireRoles пропускает только вызывающих хотя бы с одной из ролей.
func RequireRoles(logger *log.Entry, roles ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.WithField("component", "http-auth")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, logger, domain.ErrUnauthenticated)
				return
			}
			for _, role := range roles {
				if identity.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, logger, domain.ErrForbidden)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IssueToken подписывает токен; используется в тестах и локальной отладке.
func IssueToken(secret, subject string, roles ...string) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles:            roles,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	})
	return token.SignedString([]byte(secret))
}
