package utils

import (
	"strings"

	"github.com/gofrs/uuid"
)

// Namespace scopes every identifier derived by this module.
var Namespace = uuid.NewV5(uuid.NamespaceOID, "marginpool")

// GenUuid derives a stable v5 uuid from the ordered parts. The same parts
// always yield the same id, so a retried operation keeps its identity.
func GenUuid(parts ...string) uuid.UUID {
	return uuid.NewV5(Namespace, strings.Join(parts, "|"))
}

func GenUuidFromStrings(parts ...string) string {
	return GenUuid(parts...).String()
}
