// Package domain holds the library model values shared by the dispatcher and its data sources.
package domain

// MediaStatus is the analysis state of a book's media.
type MediaStatus string

const (
	MediaStatusReady       MediaStatus = "READY"
	MediaStatusUnknown     MediaStatus = "UNKNOWN"
	MediaStatusError       MediaStatus = "ERROR"
	MediaStatusUnsupported MediaStatus = "UNSUPPORTED"
	MediaStatusOutdated    MediaStatus = "OUTDATED"
)

// StaleMediaStatuses returns the statuses of books whose media must be analyzed again:
// never analyzed (UNKNOWN) or changed on disk since the last analysis (OUTDATED).
func StaleMediaStatuses() []MediaStatus {
	return []MediaStatus{MediaStatusUnknown, MediaStatusOutdated}
}
