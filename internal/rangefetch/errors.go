package rangefetch

// Sentinel errors for the RangeFetch engine, following the teacher's
// rtError-string pattern (spec.md §7).
const (
	// ErrProbeFailed is returned when the first sub-range GET never yields a
	// 206 response after retries (spec.md §7, "Probe failure").
	ErrProbeFailed = rtError("probe request failed to establish a byte range")

	// ErrOrderingViolation is the fatal reassembly error: the data queue's
	// head offset fell behind expect_begin (spec.md §7).
	ErrOrderingViolation = rtError("reassembly ordering violation: head offset behind expected offset")

	// ErrDataStarvation means the serializer waited out its peek timeout
	// with no eligible chunk arriving (spec.md §4.F step 5, §7).
	ErrDataStarvation = rtError("data queue starvation: no chunk arrived before timeout")

	// ErrClientDisconnected is returned by the serializer when a write to
	// the client socket fails (spec.md §7).
	ErrClientDisconnected = rtError("client disconnected")

	// ErrTooManyRedirects caps the redirect chase per sub-range at 5, per
	// spec.md §9's explicit recommendation.
	ErrTooManyRedirects = rtError("too many redirects while fetching sub-range")
)
