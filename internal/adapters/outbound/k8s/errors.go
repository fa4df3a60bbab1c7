package k8s

// ResourceVersionExpiredError signals that the watch cursor fell off the API
// server's event horizon. Recoverable: the caller resyncs from a fresh list.
type ResourceVersionExpiredError struct{}

func (e *ResourceVersionExpiredError) Error() string {
	return "resource version expired"
}

func (e *ResourceVersionExpiredError) IsResourceVersionExpired() {}

var errResourceVersionExpired = &ResourceVersionExpiredError{}

// SourceUnavailableError marks a transient API server failure worth retrying.
type SourceUnavailableError struct{}

func (e *SourceUnavailableError) Error() string {
	return "snapshot source unavailable"
}

func (e *SourceUnavailableError) IsSourceUnavailable() {}

var errSourceUnavailable = &SourceUnavailableError{}
