// Package extract turns raw upstream documents into structured data: article
// metadata out of RePEc pages and citing handles out of CiTEc responses.
package extract

import "errors"

// Sentinel errors callers are expected to branch on with errors.Is.
var (
	// ErrMalformed means the document is missing the structured metadata an
	// article page is supposed to embed.
	ErrMalformed = errors.New("extract: malformed document")
	// ErrNotFound means the upstream explicitly reported no record for the
	// requested handle.
	ErrNotFound = errors.New("extract: document not found upstream")
	// ErrBlocked means the upstream signaled it is throttling or denying
	// access. Distinct from ErrNotFound: a blocked response says nothing
	// about whether the paper has citations.
	ErrBlocked = errors.New("extract: upstream blocked the request")
)

// Record is the structured article metadata pulled out of a RePEc page.
// Venue, authors and keywords are normalized (trimmed, lower-cased) so the
// store can deduplicate lookup entities by exact match.
type Record struct {
	Title    string
	Year     int
	Venue    string
	Authors  []string
	Abstract string
	URL      string
	Keywords []string
}
