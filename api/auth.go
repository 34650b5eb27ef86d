package api

import (
	"crypto/sha256"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const (
	HeaderApiKey        = "X-Api-Key"
	contextPrincipalKey = "principal"
)

var ErrInvalidCredential = errors.New("invalid credential")

type Role uint8

const (
	// acts on the pool as its own address
	RoleAccount Role = 1 << iota
	RoleGovernance
	RoleCounterparty
	// pushes margin snapshots for any account
	RoleFeed
)

func (r Role) String() string {
	switch r {
	case RoleAccount:
		return "account"
	case RoleGovernance:
		return "governance"
	case RoleCounterparty:
		return "counterparty"
	case RoleFeed:
		return "feed"
	default:
		return "unknown"
	}
}

type (
	// Principal is the identity bound to an API key. The caller of every
	// pool operation is the principal's address, never a client field.
	Principal struct {
		Address common.Address
		Roles   Role
	}

	Credential struct {
		Key       string
		Principal Principal
	}

	// Keyring resolves API keys to principals. Keys are held as sha256
	// digests.
	Keyring struct {
		principals map[[sha256.Size]byte]Principal
	}
)

func (p Principal) Has(role Role) bool {
	return p.Roles&role == role
}

func NewKeyring(credentials ...Credential) (*Keyring, error) {
	k := &Keyring{principals: make(map[[sha256.Size]byte]Principal, len(credentials))}
	for _, credential := range credentials {
		if credential.Key == "" {
			return nil, errors.Wrap(ErrInvalidCredential, "empty key")
		}
		if credential.Principal.Roles == 0 {
			return nil, errors.Wrap(ErrInvalidCredential, "key without a role")
		}
		digest := sha256.Sum256([]byte(credential.Key))
		if _, ok := k.principals[digest]; ok {
			return nil, errors.Wrap(ErrInvalidCredential, "key configured twice")
		}
		k.principals[digest] = credential.Principal
	}
	return k, nil
}

func (k *Keyring) Lookup(key string) (Principal, bool) {
	if k == nil || key == "" {
		return Principal{}, false
	}
	principal, ok := k.principals[sha256.Sum256([]byte(key))]
	return principal, ok
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderApiKey)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing API key", Kind: "authentication"})
			return
		}
		principal, ok := s.keys.Lookup(key)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid API key", Kind: "authentication"})
			return
		}
		c.Set(contextPrincipalKey, principal)
		c.Next()
	}
}

func requireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principalOf(c).Has(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "API key lacks the " + role.String() + " role", Kind: "authorization"})
			return
		}
		c.Next()
	}
}

func principalOf(c *gin.Context) Principal {
	return c.MustGet(contextPrincipalKey).(Principal)
}

func callerOf(c *gin.Context) common.Address {
	return principalOf(c).Address
}
