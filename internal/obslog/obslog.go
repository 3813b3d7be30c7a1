// Package obslog adapts the teacher's component-scoped Logger interface
// (internal/common.Logger / TradingLogger) onto go.uber.org/zap, and adds
// an async, drop-on-overflow sink for the hot path: the matching engine
// and order server log through a bounded pkg/ring queue drained by a
// background goroutine, so a slow log sink never stalls order processing.
package obslog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/lowlatency-trading/pkg/ring"
)

// drainIdleInterval bounds how long drain can sleep between a missed
// notify and the next wake-up, the same ticker-gated-wait shape every
// other polling loop in this tree uses (cmd/exchange's pollLoop,
// cmd/client's marketDataLoop) instead of an unconditional busy-spin.
const drainIdleInterval = time.Millisecond

// Logger is the narrow surface every component depends on; *zap.Logger
// (via the adapter below) and any test double satisfy it.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	With(component string) Logger
}

// zapLogger adapts *zap.SugaredLogger to Logger, scoping each With call to
// a "component" field the way the teacher's TradingLogger scopes a prefix.
type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap.Logger (JSON encoder, epoch-seconds
// timestamps) and wraps it as a Logger.
func New() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// Wrap adapts an existing *zap.Logger, e.g. one built with NewDevelopment
// in tests.
func Wrap(z *zap.Logger) Logger {
	return &zapLogger{s: z.Sugar()}
}

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(component string) Logger {
	return &zapLogger{s: l.s.With("component", component)}
}

// record is a single deferred log line queued by AsyncSink.
type record struct {
	level string
	msg   string
	kv    []interface{}
}

// LogEvent is the externally-publishable form of a log record, sent to
// NATS (via watermill-nats) when an AsyncSink is built with WithNATS.
type LogEvent struct {
	Level  string            `json:"level"`
	Msg    string            `json:"msg"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NewNATSPublisher opens a watermill-nats publisher against urlAddr,
// suitable for AsyncSink.WithNATS. Each LogEvent payload is JSON, but the
// watermill message carrying it is gob-encoded (nats.GobMarshaler), so a
// subscriber decodes the envelope with that marshaler first.
func NewNATSPublisher(urlAddr string) (message.Publisher, error) {
	return nats.NewPublisher(nats.PublisherConfig{
		URL:       urlAddr,
		Marshaler: nats.GobMarshaler{},
	}, watermill.NewStdLogger(false, false))
}

// AsyncSink decouples hot-path callers from the logger by buffering
// records in a pkg/ring.Buffer and draining them from a single background
// goroutine. A full ring drops the record rather than blocking the
// producer — the matching engine must never stall on logging. When
// configured with WithNATS, the same drained records are additionally,
// best-effort, published onto a NATS topic for external log aggregation;
// a publish failure is swallowed rather than fed back through the logger.
type AsyncSink struct {
	inner     Logger
	buf       *ring.Buffer[record]
	notify    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	natsPub   message.Publisher
	natsTopic string
}

// NewAsyncSink wraps inner with an async, drop-on-overflow front end of
// the given queue depth (rounded up to a power of two by pkg/ring).
func NewAsyncSink(inner Logger, depth int) *AsyncSink {
	a := &AsyncSink{
		inner:  inner,
		buf:    ring.New[record](depth),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

// Depth returns the number of records currently buffered, for the
// lowlatency_ring_depth gauge.
func (a *AsyncSink) Depth() int { return a.buf.Len() }

func (a *AsyncSink) drain() {
	defer close(a.done)
	ticker := time.NewTicker(drainIdleInterval)
	defer ticker.Stop()
	for {
		for {
			r, ok := a.buf.Pop()
			if !ok {
				break
			}
			a.emit(r)
		}
		select {
		case <-a.stop:
			for {
				r, ok := a.buf.Pop()
				if !ok {
					return
				}
				a.emit(r)
			}
		case <-a.notify:
		case <-ticker.C:
		}
	}
}

func (a *AsyncSink) emit(r record) {
	switch r.level {
	case "debug":
		a.inner.Debugw(r.msg, r.kv...)
	case "warn":
		a.inner.Warnw(r.msg, r.kv...)
	case "error":
		a.inner.Errorw(r.msg, r.kv...)
	default:
		a.inner.Infow(r.msg, r.kv...)
	}
	if a.natsPub != nil {
		a.publishNATS(r)
	}
}

func (a *AsyncSink) publishNATS(r record) {
	ev := LogEvent{Level: r.level, Msg: r.msg, Fields: kvToFields(r.kv)}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = a.natsPub.Publish(a.natsTopic, message.NewMessage(watermill.NewUUID(), payload))
}

func kvToFields(kv []interface{}) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields[key] = fmt.Sprint(kv[i+1])
	}
	return fields
}

func (a *AsyncSink) enqueue(level, msg string, kv []interface{}) {
	a.buf.Push(record{level: level, msg: msg, kv: kv})
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *AsyncSink) Debugw(msg string, kv ...interface{}) { a.enqueue("debug", msg, kv) }
func (a *AsyncSink) Infow(msg string, kv ...interface{})  { a.enqueue("info", msg, kv) }
func (a *AsyncSink) Warnw(msg string, kv ...interface{})  { a.enqueue("warn", msg, kv) }
func (a *AsyncSink) Errorw(msg string, kv ...interface{}) { a.enqueue("error", msg, kv) }

func (a *AsyncSink) With(component string) Logger {
	return &AsyncSink{
		inner: a.inner.With(component), buf: a.buf, notify: a.notify, stop: a.stop, done: a.done,
		natsPub: a.natsPub, natsTopic: a.natsTopic,
	}
}

// WithNATS returns a copy of a that additionally publishes every drained
// record as a LogEvent on topic via pub. Pass the result of
// NewNATSPublisher; a nil pub disables NATS publishing again.
func (a *AsyncSink) WithNATS(pub message.Publisher, topic string) *AsyncSink {
	return &AsyncSink{
		inner: a.inner, buf: a.buf, notify: a.notify, stop: a.stop, done: a.done,
		natsPub: pub, natsTopic: topic,
	}
}

// Close stops the drain goroutine after flushing any queued records.
func (a *AsyncSink) Close() {
	close(a.stop)
	<-a.done
}
