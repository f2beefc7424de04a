package batch

import "github.com/google/uuid"

// ingestNamespace anchors deterministic UUIDv5 derivation so the same
// natural key always yields the same id across runs and processes.
var ingestNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ResolveID returns the id to use for an item: the supplied id if valid, a
// UUIDv5 derived from naturalKey when one is present, or a fresh UUIDv4
// otherwise.
func ResolveID(suppliedID, naturalKey string) (string, error) {
	if suppliedID != "" {
		if _, err := uuid.Parse(suppliedID); err != nil {
			return "", err
		}
		return suppliedID, nil
	}
	if naturalKey != "" {
		return uuid.NewSHA1(ingestNamespace, []byte(naturalKey)).String(), nil
	}
	generated, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return generated.String(), nil
}
