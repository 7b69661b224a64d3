package chat

import (
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// verboseEvents are the gateway commands echoed in verbose mode.
var verboseEvents = map[string]string{
	"PING":    "PING",
	"JOIN":    "JOIN",
	"PART":    "PART",
	"PRIVMSG": "PRIVMSG",
	"NOTICE":  "NOTICE",
	"MODE":    "MODE",
	"001":     "RPL_WELCOME",
	"002":     "RPL_YOURHOST",
	"003":     "RPL_CREATED",
	"004":     "RPL_MYINFO",
	"005":     "RPL_ISUPPORT",
	"375":     "RPL_MOTDSTART",
	"372":     "RPL_MOTD",
	"376":     "RPL_ENDOFMOTD",
	"251":     "RPL_LUSERCLIENT",
	"252":     "RPL_LUSEROP",
	"253":     "RPL_LUSERUNKNOWN",
	"254":     "RPL_LUSERCHANNELS",
	"255":     "RPL_LUSERME",
	"422":     "ERR_NOMOTD",
}

func commandOf(msg twitch.Message) string {
	switch m := msg.(type) {
	case *twitch.RawMessage:
		return m.RawType
	case *twitch.PingMessage:
		return "PING"
	case *twitch.UserJoinMessage:
		return "JOIN"
	case *twitch.UserPartMessage:
		return "PART"
	case *twitch.PrivateMessage:
		return "PRIVMSG"
	case *twitch.NoticeMessage:
		return "NOTICE"
	}
	return ""
}

// eventName reports the display name of a verbose event, if msg is one.
func eventName(msg twitch.Message) (string, bool) {
	name, ok := verboseEvents[commandOf(msg)]
	return name, ok
}

func logEvent(msg twitch.Message, raw string) {
	name, ok := eventName(msg)
	if !ok {
		return
	}
	slog.Info("chat event", slog.String("event", name), slog.String("raw", raw), slog.String("component", "chat"))
}
