package events

// LinkStateEvent is published after an interface's description tag
// changes. The OS alias stays authoritative; subscribers must re-read it.
type LinkStateEvent struct {
	Interface string
	State     string
}
