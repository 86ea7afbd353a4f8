package rangefetch

import (
	"fmt"
	"io"
	"log"
	"time"
)

// peekTimeout bounds how long the serializer waits for the data queue's
// head to become eligible before declaring starvation (spec.md §4.F). It's a
// var, not a const, so tests can shrink it instead of waiting out the real
// 30s bound.
var peekTimeout = 30 * time.Second

// gapSleep is how long the serializer waits before rechecking a head that's
// ahead of expect_begin (spec.md §4.F step 3).
var gapSleep = 100 * time.Millisecond

// Serializer drains the DataQueue strictly in ascending offset order and
// writes to the client (spec.md §4.F). It is the sole consumer of DataQueue.
type Serializer struct {
	Session    *Session
	DataQ      *DataQueue
	Controller *Controller
	Writer     io.Writer

	DebugOut *log.Logger

	// UsePeek selects between the peek-then-consume strategy and the
	// pop-then-requeue fallback (spec.md §9 requires both to be
	// exercised).
	UsePeek bool

	Length int64 // absolute offset one past the last byte to deliver; serializer stops at expect_begin >= Length
}

// Run drives the writer loop until EOF, a fatal ordering violation, client
// disconnect, or data-queue starvation, then retires all workers by setting
// Stopped to -1 (spec.md §4.F).
func (s *Serializer) Run() error {
	defer s.Session.stopped.Store(-1)

	s.Session.expectBegin.Store(s.Session.RangeStart)

	for s.Session.ExpectBegin() < s.Length {
		var (
			chunk Chunk
			err   error
		)

		if s.UsePeek {
			chunk, err = s.stepPeek()
		} else {
			chunk, err = s.stepPopRequeue()
		}

		if err == errGapNotReady {
			continue
		}
		if err != nil {
			return err
		}

		if _, werr := s.Writer.Write(chunk.Bytes); werr != nil {
			return fmt.Errorf("%w: %v", ErrClientDisconnected, werr)
		}
		s.Session.expectBegin.Add(int64(len(chunk.Bytes)))

		if s.Controller != nil {
			s.Controller.Observe()
		}
	}

	return nil
}

// errGapNotReady is an internal sentinel meaning "no fatal condition, but
// nothing to write yet"; Run loops back around rather than treating it as a
// terminal error.
const errGapNotReady = rtError("gap not yet filled")

// stepPeek implements the has-peek branch of spec.md §4.F: peek the head
// without removing it, only consuming once it matches expect_begin.
func (s *Serializer) stepPeek() (Chunk, error) {
	head, err := s.DataQ.PeekMin(peekTimeout)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrDataStarvation, err)
	}

	expect := s.Session.ExpectBegin()
	switch {
	case head.Offset == expect:
		chunk, ok := s.DataQ.PopMin()
		if !ok {
			// Raced with another consumer; there is none in this design
			// (serializer is the sole consumer), so this can't happen in
			// practice, but treat it as "try again" rather than panic.
			return Chunk{}, errGapNotReady
		}
		return chunk, nil
	case head.Offset > expect:
		time.Sleep(gapSleep)
		return Chunk{}, errGapNotReady
	default:
		return Chunk{}, fmt.Errorf("%w: head=%d expect=%d", ErrOrderingViolation, head.Offset, expect)
	}
}

// stepPopRequeue implements the no-peek fallback: pop the head
// unconditionally, then push it back if it isn't eligible yet (spec.md §9).
func (s *Serializer) stepPopRequeue() (Chunk, error) {
	head, err := s.DataQ.Pop(peekTimeout)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrDataStarvation, err)
	}

	expect := s.Session.ExpectBegin()
	switch {
	case head.Offset == expect:
		return head, nil
	case head.Offset > expect:
		s.DataQ.PushBack(head)
		time.Sleep(gapSleep)
		return Chunk{}, errGapNotReady
	default:
		return Chunk{}, fmt.Errorf("%w: head=%d expect=%d", ErrOrderingViolation, head.Offset, expect)
	}
}
