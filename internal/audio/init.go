package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"
)

var (
	libMu   sync.Mutex
	libRefs int
)

// Initialize brings up PortAudio and returns the matching release func.
// Calls nest; the library is terminated when the last release runs.
func Initialize() (release func(), err error) {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return func() {}, err
		}
	}
	libRefs++

	var once sync.Once
	return func() {
		once.Do(func() {
			libMu.Lock()
			defer libMu.Unlock()
			libRefs--
			if libRefs == 0 {
				_ = portaudio.Terminate()
			}
		})
	}, nil
}
