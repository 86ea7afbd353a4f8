package rangefetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	. "github.com/smartystreets/goconvey/convey"
)

func Test_RangeFetch_GivesUpAfterMaxTriesOnPersistentNon206(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the origin ignores Range and keeps returning 200, rangeFetch retries maxTries times then gives up", t, func() {
		var calls int
		fetcher := stubFetcher{fn: func(url string, headers http.Header, followRedirects bool) (*http.Response, error) {
			calls++
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{},
				Body:       http.NoBody,
			}, nil
		}}

		sess := &Session{Headers: http.Header{}}
		sess.SetURL("http://origin.example/video")

		start := time.Now()
		resp, err := rangeFetch(fetcher, sess, 0, 31, 3)
		elapsed := time.Since(start)

		So(err, ShouldBeNil)
		So(resp, ShouldBeNil)
		So(calls, ShouldEqual, 3)
		// Two 2s backoffs between three tries, per spec.md §4.D step 5.
		So(elapsed, ShouldBeGreaterThanOrEqualTo, 4*time.Second)
	})
}
