package reload

// Notifier implements config reload request notification
type Notifier struct {
	C chan struct{}
}

// NewNotifier initializes and returns new notifier.
func NewNotifier() Notifier {
	n := Notifier{C: make(chan struct{}, 1)}
	n.subscribe()
	return n
}

// Notify requests a reload, satisfying the adminNotifier interface that
// cmd/ice-agent's admin endpoint dispatches HTTP /reload requests through.
// If a reload is already pending, the request is dropped.
func (n Notifier) Notify() {
	select {
	case n.C <- struct{}{}:
	default:
	}
}
