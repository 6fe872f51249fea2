// Package metrics counts authentication events with Prometheus.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lborres/gatehouse/core"
)

const (
	namespace = "gatehouse"
	subsystem = "auth"
)

// Event names used as the "event" label.
const (
	EventSignIn      = "signIn"
	EventSignOut     = "signOut"
	EventCreateUser  = "createUser"
	EventUpdateUser  = "updateUser"
	EventLinkAccount = "linkAccount"
	EventSession     = "session"
)

type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	SignInsTotal     *prometheus.CounterVec
	EventErrorsTotal *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg means the default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_total",
				Help:      "Total number of authentication events by type",
			},
			[]string{"event"},
		),
		SignInsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sign_ins_total",
				Help:      "Total number of successful sign-ins by provider",
			},
			[]string{"provider", "new_user"},
		),
		EventErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "event_errors_total",
				Help:      "Total number of event handlers that returned an error",
			},
			[]string{"event"},
		),
	}
}

func (m *Metrics) observe(event string, err error) error {
	m.EventsTotal.WithLabelValues(event).Inc()
	if err != nil {
		m.EventErrorsTotal.WithLabelValues(event).Inc()
	}
	return err
}

// Wrap returns Events that count every event and then call next.
func (m *Metrics) Wrap(next core.Events) core.Events {
	return core.Events{
		SignIn: func(ctx context.Context, e core.SignInEvent) error {
			provider := ""
			if e.Account != nil {
				provider = e.Account.Provider
			}
			m.SignInsTotal.WithLabelValues(provider, strconv.FormatBool(e.IsNewUser)).Inc()

			var err error
			if next.SignIn != nil {
				err = next.SignIn(ctx, e)
			}
			return m.observe(EventSignIn, err)
		},
		SignOut: func(ctx context.Context, e core.SignOutEvent) error {
			var err error
			if next.SignOut != nil {
				err = next.SignOut(ctx, e)
			}
			return m.observe(EventSignOut, err)
		},
		CreateUser: func(ctx context.Context, u *core.User) error {
			var err error
			if next.CreateUser != nil {
				err = next.CreateUser(ctx, u)
			}
			return m.observe(EventCreateUser, err)
		},
		UpdateUser: func(ctx context.Context, u *core.User) error {
			var err error
			if next.UpdateUser != nil {
				err = next.UpdateUser(ctx, u)
			}
			return m.observe(EventUpdateUser, err)
		},
		LinkAccount: func(ctx context.Context, e core.LinkAccountEvent) error {
			var err error
			if next.LinkAccount != nil {
				err = next.LinkAccount(ctx, e)
			}
			return m.observe(EventLinkAccount, err)
		},
		Session: func(ctx context.Context, e core.SessionEvent) error {
			var err error
			if next.Session != nil {
				err = next.Session(ctx, e)
			}
			return m.observe(EventSession, err)
		},
	}
}
