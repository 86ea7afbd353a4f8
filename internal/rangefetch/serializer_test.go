package rangefetch

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	. "github.com/smartystreets/goconvey/convey"
)

func newSerializerSession(start int64) *Session {
	// Run initializes expect_begin from RangeStart, so the starting offset
	// has to be set there rather than on expectBegin directly.
	s := &Session{Bufsize: 16, RangeStart: start}
	return s
}

func Test_Serializer_PeekStrategy_WritesInOrder(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When chunks arrive out of order, the peek strategy still writes them ascending", t, func() {
		dq := NewDataQueue()
		dq.Push(Chunk{Offset: 5, Bytes: []byte("world")})
		dq.Push(Chunk{Offset: 0, Bytes: []byte("hello")})

		var out bytes.Buffer
		s := &Serializer{
			Session: newSerializerSession(0),
			DataQ:   dq,
			Writer:  &out,
			UsePeek: true,
			Length:  10,
		}

		err := s.Run()
		So(err, ShouldBeNil)
		So(out.String(), ShouldEqual, "helloworld")
		So(s.Session.Stopped(), ShouldEqual, -1)
	})
}

func Test_Serializer_PopRequeueStrategy_WritesInOrder(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When chunks arrive out of order, the pop-then-requeue strategy still writes them ascending", t, func() {
		dq := NewDataQueue()
		dq.Push(Chunk{Offset: 5, Bytes: []byte("world")})
		dq.Push(Chunk{Offset: 0, Bytes: []byte("hello")})

		var out bytes.Buffer
		s := &Serializer{
			Session: newSerializerSession(0),
			DataQ:   dq,
			Writer:  &out,
			UsePeek: false,
			Length:  10,
		}

		err := s.Run()
		So(err, ShouldBeNil)
		So(out.String(), ShouldEqual, "helloworld")
	})
}

func Test_Serializer_FatalOnOrderingViolation(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the head offset is behind expect_begin, Run returns ErrOrderingViolation", t, func() {
		dq := NewDataQueue()
		dq.Push(Chunk{Offset: 0, Bytes: []byte("x")})

		var out bytes.Buffer
		s := &Serializer{
			Session: newSerializerSession(5), // expect_begin already past offset 0
			DataQ:   dq,
			Writer:  &out,
			UsePeek: true,
			Length:  10,
		}

		err := s.Run()
		So(errors.Is(err, ErrOrderingViolation), ShouldBeTrue)
	})
}

func Test_Serializer_StarvationTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When no chunk ever arrives, Run eventually returns ErrDataStarvation", t, func() {
		orig := peekTimeout
		peekTimeout = 50 * time.Millisecond
		defer func() { peekTimeout = orig }()

		dq := NewDataQueue()

		var out bytes.Buffer
		s := &Serializer{
			Session: newSerializerSession(0),
			DataQ:   dq,
			Writer:  &out,
			UsePeek: true,
			Length:  10,
		}

		err := s.Run()
		So(errors.Is(err, ErrDataStarvation), ShouldBeTrue)
	})
}

type errWriter struct{}

func (errWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func Test_Serializer_ClientDisconnect(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("When the client write fails, Run returns ErrClientDisconnected", t, func() {
		dq := NewDataQueue()
		dq.Push(Chunk{Offset: 0, Bytes: []byte("x")})

		s := &Serializer{
			Session: newSerializerSession(0),
			DataQ:   dq,
			Writer:  errWriter{},
			UsePeek: true,
			Length:  10,
		}

		err := s.Run()
		So(errors.Is(err, ErrClientDisconnected), ShouldBeTrue)
	})
}
