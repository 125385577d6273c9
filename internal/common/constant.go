package common

import "time"

// Canonical list names distributed by the service.
const (
	ListMalware  = "goog-malware-shavar"
	ListPhishing = "googpub-phish-shavar"
)

// DefaultLists is the set a client mirrors when the caller does not narrow it.
var DefaultLists = []string{ListMalware, ListPhishing}

const (
	// DefaultWait is the poll interval used when the server sends no n: directive.
	DefaultWait = 1800 * time.Second

	// FullHashFreshness is how long a confirmed full hash stays valid.
	FullHashFreshness = 45 * time.Minute

	// PrefixSize is the hash prefix length the service distributes.
	PrefixSize = 4

	// HostKeySize is the length of a host-key probe.
	HostKeySize = 4
)
