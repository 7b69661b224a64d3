package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/lurkbot/telemetry"
)

// Sender queues a raw protocol line on the active connection.
type Sender interface {
	Send(ctx context.Context, line string) error
}

// Membership issues JOIN and PART commands. Acknowledgements are not awaited; a
// command is considered done once it is queued.
type Membership struct {
	Conn Sender
}

// ChannelName maps a streamer login to its chat channel.
func ChannelName(login string) string {
	return "#" + strings.ToLower(strings.TrimPrefix(login, "#"))
}

// JoinChannels sends one JOIN per login, in order.
func (m *Membership) JoinChannels(ctx context.Context, logins []string) error {
	return m.each(ctx, "JOIN", logins, "joined channel", telemetry.IncJoin)
}

// LeaveChannels sends one PART per login, in order.
func (m *Membership) LeaveChannels(ctx context.Context, logins []string) error {
	return m.each(ctx, "PART", logins, "left channel", telemetry.IncPart)
}

func (m *Membership) each(ctx context.Context, verb string, logins []string, msg string, count func()) error {
	logger := telemetry.LoggerWithCorr(ctx)
	for _, login := range logins {
		ch := ChannelName(login)
		if err := m.Conn.Send(ctx, verb+" "+ch); err != nil {
			return fmt.Errorf("%s %s: %w", strings.ToLower(verb), ch, err)
		}
		count()
		logger.Info(msg, slog.String("channel", login), slog.String("component", "chat"))
	}
	return nil
}
