package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream accumulates the tracks received from the peer. It is the
// read-only receive-side handle handed to the UI layer.
type RemoteStream struct {
	mu      sync.RWMutex
	tracks  []*webrtc.TrackRemote
	onTrack func(*webrtc.TrackRemote)
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	cb := s.onTrack
	s.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

func (s *RemoteStream) reset() {
	s.mu.Lock()
	s.tracks = nil
	s.mu.Unlock()
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// OnTrack sets the callback invoked for every newly received track.
func (s *RemoteStream) OnTrack(cb func(*webrtc.TrackRemote)) {
	s.mu.Lock()
	s.onTrack = cb
	s.mu.Unlock()
}
