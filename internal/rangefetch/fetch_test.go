package rangefetch

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	. "github.com/smartystreets/goconvey/convey"
)

// realFetcher adapts a plain *http.Client to the Fetcher interface by
// issuing a real GET carrying whatever headers rangeFetch set, against an
// httptest server that honors Range via http.ServeContent.
type realFetcher struct {
	client *http.Client
}

func (r realFetcher) Fetch(target string, headers http.Header, followRedirects bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	return r.client.Do(req)
}

func rangeOrigin(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.ServeContent(w, req, "data.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
}

func Test_Engine_ProbeAndStream_WholeFileAssemblesInOrder(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the client requests the whole file, probe+stream reassembles it byte-for-byte", t, func() {
		content := make([]byte, 64)
		for i := range content {
			content[i] = byte('a' + i%26)
		}
		server := rangeOrigin(content)
		defer server.Close()

		u, err := url.Parse(server.URL)
		So(err, ShouldBeNil)

		sess := NewSession(http.Header{}, 0, 0, 8, "http", u.Host, SessionConfig{
			FirstSize:   16,
			MaxSize:     16,
			Threads:     2,
			DownRateMin: 1,
			DownRateMax: 1 << 30,
			CheckSize:   1 << 30, // large enough that Observe never adjusts mid-test
		})

		e := &Engine{Fetcher: realFetcher{client: server.Client()}}

		outcome, err := e.Probe(sess, server.URL, false)
		So(err, ShouldBeNil)
		So(outcome.Status, ShouldEqual, http.StatusOK)
		So(outcome.Header.Get("Content-Length"), ShouldEqual, fmt.Sprintf("%d", len(content)))

		var out bytes.Buffer
		err = outcome.Stream(&out, true, nil)
		So(err, ShouldBeNil)
		So(out.Bytes(), ShouldResemble, content)
	})
}

func Test_Engine_ProbeAndStream_ClientRequestedSubRange(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the client requests bytes 10-39, probe+stream delivers exactly that slice", t, func() {
		content := make([]byte, 64)
		for i := range content {
			content[i] = byte('A' + i%26)
		}
		server := rangeOrigin(content)
		defer server.Close()

		u, err := url.Parse(server.URL)
		So(err, ShouldBeNil)

		const rangeStart, rangeEnd = 10, 39
		sess := NewSession(http.Header{}, rangeStart, rangeEnd, 8, "http", u.Host, SessionConfig{
			FirstSize:   8,
			MaxSize:     8,
			Threads:     2,
			DownRateMin: 1,
			DownRateMax: 1 << 30,
			CheckSize:   1 << 30,
		})

		e := &Engine{Fetcher: realFetcher{client: server.Client()}}

		outcome, err := e.Probe(sess, server.URL, true)
		So(err, ShouldBeNil)
		So(outcome.Status, ShouldEqual, http.StatusPartialContent)
		So(outcome.Header.Get("Content-Range"), ShouldEqual, fmt.Sprintf("bytes %d-%d/%d", rangeStart, rangeEnd, len(content)))

		var out bytes.Buffer
		err = outcome.Stream(&out, false, nil) // exercise the pop-then-requeue strategy here
		So(err, ShouldBeNil)
		So(out.Bytes(), ShouldResemble, content[rangeStart:rangeEnd+1])
	})
}

func Test_Engine_Probe_MissingContentRangeIsFatal(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the origin never returns Content-Range, Probe fails with ErrProbeFailed", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// 206 with no Content-Range: passes rangeFetch's status check on
			// the first try (no retry delay) but fails planning.
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("no range support here"))
		}))
		defer server.Close()

		u, err := url.Parse(server.URL)
		So(err, ShouldBeNil)

		sess := NewSession(http.Header{}, 0, 0, 8, "http", u.Host, SessionConfig{
			FirstSize: 8,
			MaxSize:   8,
			Threads:   1,
			CheckSize: 1 << 30,
		})

		e := &Engine{Fetcher: realFetcher{client: server.Client()}}

		_, err = e.Probe(sess, server.URL, false)
		So(err, ShouldNotBeNil)
	})
}
