package log

import (
	"time"

	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// SentrySettings represents the configuration required to bootstrap Sentry.
type SentrySettings struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry wires up Sentry exception logging and connects it to the provided logrus logger.
func InitSentry(logger *logrus.Logger, settings SentrySettings) (*sentry.Hub, func(), error) {
	if settings.DSN == "" {
		return nil, func() {}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         settings.DSN,
		Environment: settings.Environment,
		Release:     settings.Release,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "error initializing sentry client")
	}

	hub := sentry.NewHub(client, sentry.NewScope())

	hook := sentrylogrus.NewLogHookFromClient([]logrus.Level{
		logrus.ErrorLevel,
		logrus.FatalLevel,
		logrus.PanicLevel,
	}, client)
	logger.AddHook(hook)

	flush := func() {
		hub.Flush(2 * time.Second)
	}

	return hub, flush, nil
}

// ErrorRecorder logs failures for a component and forwards them to Sentry when a hub is present.
type ErrorRecorder struct {
	entry *logrus.Entry
	hub   *sentry.Hub
}

// NewErrorRecorder builds a recorder for the named component.
func NewErrorRecorder(logger *logrus.Logger, hub *sentry.Hub, component string) ErrorRecorder {
	return ErrorRecorder{entry: Component(logger, component), hub: hub}
}

// Entry exposes the component-scoped logger entry.
func (r ErrorRecorder) Entry() *logrus.Entry {
	return r.entry
}

// Record logs err at error level with the provided fields and captures it in Sentry.
func (r ErrorRecorder) Record(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if r.entry != nil {
		entry := r.entry.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if r.hub != nil {
		r.hub.CaptureException(err)
	}
}
