package reconcile

// State is the streamer set state owned by one Loop. Between cycles every
// configured login is in exactly one of Joined and Offline: Offline holds
// Configured minus the last live set, which includes logins that were never
// joined, not only the ones Apply reports as newly offline.
type State struct {
	Configured Set
	Joined     Set
	Offline    Set
}

// NewState starts with nothing joined and every configured login offline.
func NewState(configured []string) *State {
	c := NewSet(configured...)
	return &State{Configured: c, Joined: Set{}, Offline: c.clone()}
}

// Apply replaces both sets from a fresh live set and returns the changes to make.
// Logins outside the configured list are ignored.
func (s *State) Apply(live Set) (toJoin, nowOffline Set) {
	live = live.Intersect(s.Configured)
	toJoin, nowOffline = Diff(s.Joined, live)
	s.Joined = live
	s.Offline = s.Configured.Minus(live)
	return toJoin, nowOffline
}

// Reset forgets every join, e.g. after the chat session was replaced.
func (s *State) Reset() {
	s.Joined = Set{}
	s.Offline = s.Configured.clone()
}
