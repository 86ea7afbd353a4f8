package rangefetch

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// Plan is the outcome of partitioning a probe response against the client's
// requested range (spec.md §4.B).
type Plan struct {
	Status        int // 200 or 206
	Start         int64
	EffectiveEnd  int64 // inclusive
	Length        int64
	ContentLength int64
	Windows       []SubRange // sub-ranges still to be fetched, ascending
}

// contentRangePattern matches "bytes START-END/LENGTH" (spec.md §4.B).
var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)`)

// ErrNoContentRange is returned when a probe response lacks a parseable
// Content-Range header.
const ErrNoContentRange = rtError("probe response missing Content-Range header")

// PlanFromProbe builds a Plan from the probe response's Content-Range header,
// the client's requested range, whether the client sent a Range header at
// all, and the configured sub-range size (spec.md §4.B).
func PlanFromProbe(probeHeaders http.Header, clientSentRange bool, rangeEnd, maxSize int64) (Plan, error) {
	m := contentRangePattern.FindStringSubmatch(probeHeaders.Get("Content-Range"))
	if m == nil {
		return Plan{}, ErrNoContentRange
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Plan{}, fmt.Errorf("parsing Content-Range start: %w", err)
	}
	end, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Plan{}, fmt.Errorf("parsing Content-Range end: %w", err)
	}
	length, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Plan{}, fmt.Errorf("parsing Content-Range length: %w", err)
	}

	lastByte := length - 1

	p := Plan{Length: length}

	if start == 0 && !clientSentRange && (rangeEnd == 0 || rangeEnd == lastByte) {
		p.Status = http.StatusOK
		p.EffectiveEnd = lastByte
		p.ContentLength = length
	} else {
		p.Status = http.StatusPartialContent
		effectiveEnd := rangeEnd
		if effectiveEnd == 0 {
			effectiveEnd = lastByte
		}
		if effectiveEnd > lastByte {
			effectiveEnd = lastByte
		}
		p.EffectiveEnd = effectiveEnd
		p.ContentLength = effectiveEnd - start + 1
	}
	p.Start = start

	a := end + 1
	b := end
	total := p.EffectiveEnd + 1
	n := (total - a) / maxSize
	for i := int64(0); i < n; i++ {
		b += maxSize
		p.Windows = append(p.Windows, SubRange{A: a, B: b})
		a = b + 1
	}
	if total > a {
		p.Windows = append(p.Windows, SubRange{A: a, B: total - 1})
	}

	return p, nil
}
