package ids

import "github.com/google/uuid"

// deriveNamespace is a fixed namespace UUID used to map application-supplied
// stream key strings (the aggregate identity) onto deterministic IDs.
var deriveNamespace = uuid.MustParse("6f6e6576-6572-4b65-9976-616c756530ff")

// Derive deterministically maps a string key (e.g. an aggregate's natural
// identity) onto a stable ID. Two calls with the same key always produce
// the same ID, which is what lets StreamId be recomputed from an event's
// declared stream key rather than looked up.
func Derive(key string) ID {
	return ID{value: uuid.NewSHA1(deriveNamespace, []byte(key))}
}
