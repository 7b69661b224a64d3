package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/lurkbot/chat"
	"github.com/onnwee/lurkbot/db"
	"github.com/onnwee/lurkbot/telemetry"
	"github.com/onnwee/lurkbot/twitchapi"
)

const tracerName = "reconcile"

// LiveChecker reports which of the given logins are live right now.
type LiveChecker interface {
	GetAliveStreamers(ctx context.Context, logins []string) (map[string]struct{}, error)
}

// Membership issues JOIN and PART for channel logins.
type Membership interface {
	JoinChannels(ctx context.Context, logins []string) error
	LeaveChannels(ctx context.Context, logins []string) error
}

// Session is the chat connection as seen by the loop.
type Session interface {
	WaitReady(ctx context.Context) error
	Generation() uint64
}

// Journal records issued membership changes.
type Journal interface {
	Record(ctx context.Context, corr, action string, channels []string) error
}

// Snapshot is a read-only view of the loop for operators.
type Snapshot struct {
	Joined      []string  `json:"joined"`
	Offline     []string  `json:"offline"`
	Cycles      uint64    `json:"cycles"`
	Failures    uint64    `json:"failures"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loop is the reconciliation loop. It is the only writer of its State.
type Loop struct {
	Checker  LiveChecker
	Members  Membership
	Session  Session
	Journal  Journal // optional
	Interval time.Duration

	state   *State
	lastGen uint64

	mu   sync.Mutex
	snap Snapshot
}

// NewLoop builds a loop over the configured logins.
func NewLoop(logins []string, interval time.Duration, checker LiveChecker, members Membership, session Session) *Loop {
	l := &Loop{
		Checker:  checker,
		Members:  members,
		Session:  session,
		Interval: interval,
		state:    NewState(logins),
	}
	l.snap.Joined = []string{}
	l.snap.Offline = l.state.Offline.Sorted()
	return l
}

// Run waits for the chat connection to be ready, then reconciles every Interval
// until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Session.WaitReady(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, chat.ErrClosed) {
			return nil
		}
		return fmt.Errorf("wait for chat: %w", err)
	}
	slog.Info("reconciliation loop started",
		slog.Duration("interval", l.Interval),
		slog.Int("streamers", len(l.state.Configured)),
		slog.String("component", "reconcile"))

	for {
		// errors are logged and counted inside; the next tick retries
		_ = l.RunCycle(ctx)
		select {
		case <-ctx.Done():
			slog.Info("reconciliation loop stopped", slog.String("component", "reconcile"))
			return nil
		case <-time.After(l.Interval):
		}
	}
}

// RunCycle performs one poll, diff, leave, join pass. On a lookup failure nothing is
// applied and the previous sets are kept.
func (l *Loop) RunCycle(ctx context.Context) error {
	var err error
	telemetry.TimeFunc(telemetry.ReconcileDuration, func() {
		err = l.cycle(ctx)
	})
	return err
}

func (l *Loop) cycle(ctx context.Context) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, tracerName, "reconcile.cycle",
		attribute.Int("reconcile.streamers", len(l.state.Configured)))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "reconcile"))
	telemetry.IncCycle()

	live, err := l.Checker.GetAliveStreamers(ctx, l.state.Configured.Sorted())
	if err != nil {
		reason := FailureReason(err)
		telemetry.RecordCycleFailure(reason)
		telemetry.RecordError(span, err)
		logger.Error("reconciliation cycle aborted", slog.String("reason", reason), slog.Any("err", err))
		l.publish(func(s *Snapshot) {
			s.Cycles++
			s.Failures++
			s.LastError = err.Error()
		})
		return fmt.Errorf("reconcile: %w", err)
	}

	if l.Session != nil {
		if gen := l.Session.Generation(); gen != l.lastGen {
			if len(l.state.Joined) > 0 {
				logger.Info("chat session replaced; rejoining live channels", slog.Uint64("generation", gen))
			}
			l.state.Reset()
			l.lastGen = gen
		}
	}

	toJoin, nowOffline := l.state.Apply(Set(live))
	leave, join := nowOffline.Sorted(), toJoin.Sorted()

	if len(leave) > 0 {
		if err := l.Members.LeaveChannels(ctx, leave); err != nil {
			logger.Warn("leave channels failed", slog.Any("err", err))
		}
		l.record(ctx, logger, db.ActionPart, leave)
	}
	if len(join) > 0 {
		if err := l.Members.JoinChannels(ctx, join); err != nil {
			logger.Warn("join channels failed", slog.Any("err", err))
		}
		l.record(ctx, logger, db.ActionJoin, join)
	}

	telemetry.SetMembership(len(live), len(l.state.Joined))
	telemetry.SetSpanSuccess(span)
	joined, offline := l.state.Joined.Sorted(), l.state.Offline.Sorted()
	l.publish(func(s *Snapshot) {
		s.Cycles++
		s.Joined = joined
		s.Offline = offline
		s.LastSuccess = time.Now().UTC()
		s.LastError = ""
	})
	logger.Info("reconciliation cycle complete",
		slog.Int("live", len(l.state.Joined)),
		slog.Int("joined", len(join)),
		slog.Int("left", len(leave)))
	return nil
}

func (l *Loop) record(ctx context.Context, logger *slog.Logger, action string, channels []string) {
	if l.Journal == nil {
		return
	}
	if err := l.Journal.Record(ctx, telemetry.GetCorrelation(ctx), action, channels); err != nil {
		logger.Warn("membership journal write failed", slog.String("action", action), slog.Any("err", err))
	}
}

func (l *Loop) publish(fn func(*Snapshot)) {
	l.mu.Lock()
	fn(&l.snap)
	l.mu.Unlock()
}

// Snapshot returns a copy of the loop's latest published state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.snap
	s.Joined = append([]string{}, l.snap.Joined...)
	s.Offline = append([]string{}, l.snap.Offline...)
	return s
}

// FailureReason classifies a cycle error for the failures metric.
func FailureReason(err error) string {
	var (
		authErr      *twitchapi.AuthServiceError
		missingErr   *twitchapi.MissingTokenError
		malformedErr *twitchapi.MalformedResponseError
		urlErr       *url.Error
		netErr       net.Error
	)
	switch {
	case errors.As(err, &authErr):
		return "auth_service"
	case errors.As(err, &missingErr):
		return "missing_token"
	case errors.As(err, &malformedErr):
		return "malformed_response"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return "transport"
	}
	return "other"
}
