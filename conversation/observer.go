// Package conversation keeps the bounded list of utterance entries and
// the observer surface the pipeline reports through.
package conversation

// Observer receives pipeline progress. Calls come from the listener loop
// and from request goroutines, so implementations must be goroutine safe.
type Observer interface {
	OnVisualizationLevel(level float64)
	OnUtteranceStarted(id int)
	OnTranscriptionReady(id int, text string)
	OnReplyReady(id int, text, audioURL string)
	OnUtteranceError(id int, message string)
	OnRequestsInFlight(n int)
	OnPlaybackInterrupted()
}

// Nop ignores every notification.
type Nop struct{}

func (Nop) OnVisualizationLevel(float64)     {}
func (Nop) OnUtteranceStarted(int)           {}
func (Nop) OnTranscriptionReady(int, string) {}
func (Nop) OnReplyReady(int, string, string) {}
func (Nop) OnUtteranceError(int, string)     {}
func (Nop) OnRequestsInFlight(int)           {}
func (Nop) OnPlaybackInterrupted()           {}

type multi []Observer

// Multi fans notifications out to every observer in order.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

func (m multi) OnVisualizationLevel(level float64) {
	for _, o := range m {
		o.OnVisualizationLevel(level)
	}
}

func (m multi) OnUtteranceStarted(id int) {
	for _, o := range m {
		o.OnUtteranceStarted(id)
	}
}

func (m multi) OnTranscriptionReady(id int, text string) {
	for _, o := range m {
		o.OnTranscriptionReady(id, text)
	}
}

func (m multi) OnReplyReady(id int, text, audioURL string) {
	for _, o := range m {
		o.OnReplyReady(id, text, audioURL)
	}
}

func (m multi) OnUtteranceError(id int, message string) {
	for _, o := range m {
		o.OnUtteranceError(id, message)
	}
}

func (m multi) OnRequestsInFlight(n int) {
	for _, o := range m {
		o.OnRequestsInFlight(n)
	}
}

func (m multi) OnPlaybackInterrupted() {
	for _, o := range m {
		o.OnPlaybackInterrupted()
	}
}
