package rangefetch

import (
	"log"
	"time"
)

// Sample is one rate-controller observation, published to the session
// registry and metrics exporter (SPEC_FULL.md §4.E).
type Sample struct {
	Time         time.Time
	RateBytesSec float64
	Threads      int32
	QueueDepth   int
	ExpectBegin  int64
}

// Controller implements the adaptive thread-count policy from spec.md §4.E.
// It is invoked inline from the serializer between chunk writes; it never
// runs on its own goroutine.
type Controller struct {
	Session *Session
	DataQ   *DataQueue
	Spawn   func(threadOrder int, delay time.Duration) // spawns worker threadOrder after delay

	DebugOut *log.Logger
	OnSample func(Sample)

	prevBegin int64
	prevCache int64
	prevTime  time.Time
}

// NewController wires a Controller for a session, priming its baseline
// sample at construction time.
func NewController(s *Session, dq *DataQueue, spawn func(int, time.Duration)) *Controller {
	return &Controller{
		Session:  s,
		DataQ:    dq,
		Spawn:    spawn,
		prevTime: time.Now(),
	}
}

// Observe is called by the serializer after every write. It measures
// throughput since the last check and, once check_size bytes have moved,
// decides whether to grow or shrink the worker pool (spec.md §4.E).
func (c *Controller) Observe() {
	presBegin := c.Session.ExpectBegin()
	presCache := int64(c.DataQ.QSize()) * int64(c.Session.Bufsize)

	checkSize := (presBegin - c.prevBegin) + (presCache - c.prevCache)
	if checkSize <= c.Session.CheckSize {
		return
	}

	presTime := time.Now()
	elapsed := presTime.Sub(c.prevTime).Seconds() + 0.1
	rate := float64(checkSize) / elapsed

	var threadsAdjust float64
	switch {
	case rate < c.Session.DownRateMin:
		threadsAdjust = c.Session.DownRateMin * 2 / rate
	case rate > c.Session.DownRateMax:
		threadsAdjust = -(rate * 2 / c.Session.DownRateMax)
	default:
		threadsAdjust = 0
	}

	if threadsAdjust != 0 {
		newThreads := int(float64(c.Session.Threads()) + threadsAdjust)
		if newThreads < 1 {
			newThreads = 1
		}
		c.AdjustThreads(newThreads)
	}

	c.prevBegin = presBegin
	c.prevCache = presCache
	c.prevTime = presTime

	if c.OnSample != nil {
		c.OnSample(Sample{
			Time:         presTime,
			RateBytesSec: rate,
			Threads:      c.Session.Threads(),
			QueueDepth:   c.DataQ.QSize(),
			ExpectBegin:  presBegin,
		})
	}
}

// AdjustThreads changes the live worker count, clamped to [1, MaxThreads].
// Growth spawns one goroutine per new identity with a staggered delay so
// they don't all strike the origin simultaneously (spec.md §4.E); shrinkage
// just lowers the retirement watermark and lets retirees exit at their next
// checkpoint.
func (c *Controller) AdjustThreads(newThreads int) {
	if newThreads > c.Session.MaxThreads {
		newThreads = c.Session.MaxThreads
	}
	if newThreads < 1 {
		newThreads = 1
	}

	oldThreads := int(c.Session.Stopped()) + 1
	if oldThreads == newThreads {
		return
	}

	c.debugf("changing thread count from %d to %d", oldThreads, newThreads)

	c.Session.threads.Store(int32(newThreads))
	c.Session.stopped.Store(int32(newThreads - 1))

	if oldThreads > newThreads {
		return
	}

	t := 0
	for i := oldThreads; i < newThreads; i++ {
		t++
		if c.Spawn != nil {
			c.Spawn(i, time.Duration(float64(t)*c.Session.DelayStep*float64(time.Second)))
		}
	}
}

func (c *Controller) debugf(format string, args ...interface{}) {
	if c.DebugOut != nil {
		c.DebugOut.Printf(format, args...)
	}
}
