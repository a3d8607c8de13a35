package clock

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns an opaque unique identifier with an entity prefix,
// e.g. "task-6f1c…". The prefix keeps logs and event payloads readable;
// callers must not parse anything beyond the prefix.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Well-known ID prefixes.
const (
	PrefixTicket     = "ticket"
	PrefixTask       = "task"
	PrefixAgent      = "agent"
	PrefixDiscovery  = "disc"
	PrefixAction     = "gact"
	PrefixEvent      = "evt"
	PrefixSubmission = "sub"
)
