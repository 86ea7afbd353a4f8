package rangefetch

import (
	"fmt"
	"net/http"
	"time"
)

// rangeFetchMaxRedirects caps the redirect chase per sub-range GET, per
// spec.md §9's explicit recommendation ("impose a small redirect cap").
const rangeFetchMaxRedirects = 5

// rangeFetch issues a ranged GET for [start, end], following redirects by
// rewriting the session's URL and retrying inline (not counted against
// maxTries), and retrying non-206 final statuses up to maxTries times with a
// 2s backoff (spec.md §4.D step 5, mirroring rangefetch_server.py's
// RangeFetch.rangefetch). Both the probe and every worker sub-range fetch
// share this helper.
//
// When retries are exhausted without ever seeing a transport error, it
// returns (nil, nil) — the original implementation's behavior, noted as a
// latent bug in spec.md §9 ("callers see a nil response and may crash on
// header access"). Callers here always check for a nil response explicitly.
func rangeFetch(f Fetcher, sess *Session, start, end int64, maxTries int) (*http.Response, error) {
	tries := 0
	redirects := 0

	for {
		headers := sess.Headers.Clone()
		headers.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

		resp, err := f.Fetch(sess.URL(), headers, false)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			redirects++
			if redirects > rangeFetchMaxRedirects {
				resp.Body.Close()
				return nil, ErrTooManyRedirects
			}
			location := resp.Header.Get("Location")
			resp.Body.Close()
			newURL := sess.resolveRedirect(location)
			if newURL == "" {
				return nil, fmt.Errorf("redirect response carried no Location header")
			}
			sess.SetURL(newURL)
			continue
		}

		if resp.StatusCode == http.StatusPartialContent {
			return resp, nil
		}

		resp.Body.Close()
		tries++
		if tries >= maxTries {
			return nil, nil
		}
		time.Sleep(2 * time.Second)
	}
}
