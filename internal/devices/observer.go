package devices

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Observer receives reader events. Callbacks run on the reading
// goroutine after the reader's locks are released and must not block.
type Observer interface {
	LineReceived(line string, at time.Time)
	WeightParsed(line string, reading WeightReading)
	Error(err error)
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	OnLine   func(line string, at time.Time)
	OnWeight func(line string, reading WeightReading)
	OnError  func(err error)
}

func (o ObserverFuncs) LineReceived(line string, at time.Time) {
	if o.OnLine != nil {
		o.OnLine(line, at)
	}
}

func (o ObserverFuncs) WeightParsed(line string, reading WeightReading) {
	if o.OnWeight != nil {
		o.OnWeight(line, reading)
	}
}

func (o ObserverFuncs) Error(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// Observers fans every event out in order.
type Observers []Observer

func (obs Observers) LineReceived(line string, at time.Time) {
	for _, o := range obs {
		o.LineReceived(line, at)
	}
}

func (obs Observers) WeightParsed(line string, reading WeightReading) {
	for _, o := range obs {
		o.WeightParsed(line, reading)
	}
}

func (obs Observers) Error(err error) {
	for _, o := range obs {
		o.Error(err)
	}
}

type nopObserver struct{}

func (nopObserver) LineReceived(string, time.Time)     {}
func (nopObserver) WeightParsed(string, WeightReading) {}
func (nopObserver) Error(error)                        {}

// LogObserver writes reader events to logger. Raw lines go to debug so a
// continuous scale does not flood the info log.
func LogObserver(logger logrus.FieldLogger) Observer {
	entry := logger.WithField("module", "scale")
	return ObserverFuncs{
		OnLine: func(line string, _ time.Time) {
			entry.WithField("raw", line).Debug("línea recibida")
		},
		OnWeight: func(line string, reading WeightReading) {
			fields := logrus.Fields{
				"raw":   line,
				"class": reading.Class.String(),
				"rule":  reading.Rule,
			}
			if reading.Class == Unparseable {
				entry.WithFields(fields).Warn("no se pudo extraer peso")
				return
			}
			fields["weight"] = reading.Value
			entry.WithFields(fields).Debug("peso extraído")
		},
		OnError: func(err error) {
			entry.WithError(err).Warn("error de balanza")
		},
	}
}
