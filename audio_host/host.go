// Package audio_host reference counts the portaudio runtime so capture
// and playback can share one Initialize/Terminate pair.
package audio_host

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	mu   sync.Mutex
	refs int

	initialize = portaudio.Initialize
	terminate  = portaudio.Terminate
)

// Acquire initializes portaudio on first use.
func Acquire() error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		if err := initialize(); err != nil {
			return fmt.Errorf("initialize audio host: %w", err)
		}
	}

	refs++

	return nil
}

// Release terminates portaudio once the last user is gone. Extra calls
// are ignored.
func Release() error {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		return nil
	}

	refs--
	if refs > 0 {
		return nil
	}

	if err := terminate(); err != nil {
		return fmt.Errorf("terminate audio host: %w", err)
	}

	return nil
}

// Running reports whether portaudio is currently initialized.
func Running() bool {
	mu.Lock()
	defer mu.Unlock()
	return refs > 0
}
