// Package chat owns the single persistent connection to the Twitch chat gateway and
// the channel membership commands issued over it.
//
// Conn is a small state machine:
//
//	Disconnected -> Connecting -> Authenticating -> Ready -> Disconnecting -> Disconnected
//
// Authentication sends PASS (the bot's user OAuth token, "oauth:" prefixed), NICK and a
// membership capability request. The connection becomes Ready on the first of
// end-of-MOTD (376) or no-MOTD (422). Any transport drop or a gateway RECONNECT sends
// the machine back to Connecting after a fixed backoff, unless Disconnect was called.
//
// Inbound lines are parsed with go-twitch-irc's ParseMessage. PING is answered ahead of
// every queued outbound line. JOIN/PART lines are queued and written only while Ready,
// so commands issued during a reconnect are delivered once the next session is up.
package chat
