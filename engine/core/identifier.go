package core

import "github.com/google/uuid"

// Identifier uniquely names a request or a cached artifact.
type Identifier = uuid.UUID

func NewIdentifier() Identifier {
	return uuid.New()
}

// IdentifierForName returns a stable identifier for name, used to key on-disk caches.
func IdentifierForName(name string) Identifier {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}
