// Package media owns local capture: camera + microphone acquisition,
// mute toggles, and the camera/screen track swap used for screen sharing.
package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrAccessDenied covers refused permissions and missing devices. Fatal to
// a connect attempt; surfaced to the UI, never retried automatically.
var ErrAccessDenied = errors.New("media access denied")

// Track is a local capture track. mediadevices tracks satisfy it; tests
// substitute fakes.
type Track interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate float32
}

// Capturer abstracts the device layer so the controller can be exercised
// without cameras on the build machine.
type Capturer interface {
	UserMedia(c Constraints) (video Track, audio Track, err error)
	DisplayMedia() (Track, error)
}

// LocalStream is the exclusive handle on the local capture tracks.
type LocalStream struct {
	video Track
	audio Track
}

func NewLocalStream(video, audio Track) *LocalStream {
	return &LocalStream{video: video, audio: audio}
}

func (s *LocalStream) VideoTrack() Track { return s.video }
func (s *LocalStream) AudioTrack() Track { return s.audio }

// Controller owns every local track exactly once and stops each exactly once.
type Controller struct {
	cap Capturer

	mu            sync.Mutex
	stream        *LocalStream
	screen        Track
	audioOn       bool
	videoOn       bool
	released      bool
	onScreenEnded func()
}

func NewController(cap Capturer) *Controller {
	return &Controller{cap: cap}
}

// OnScreenShareEnded sets the callback fired when the share stops from
// outside, e.g. the OS-level "stop sharing" control. The callback runs
// after the screen track is already detached from the controller.
func (c *Controller) OnScreenShareEnded(fn func()) {
	c.mu.Lock()
	c.onScreenEnded = fn
	c.mu.Unlock()
}

// AcquireLocal grabs camera and microphone per the constraints. Calling it
// again returns the stream already held.
func (c *Controller) AcquireLocal(cons Constraints) (*LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrAccessDenied
	}
	if c.stream != nil {
		return c.stream, nil
	}
	video, audio, err := c.cap.UserMedia(cons)
	if err != nil {
		return nil, err
	}
	c.stream = NewLocalStream(video, audio)
	c.audioOn = audio != nil
	c.videoOn = video != nil
	log.Info().Str("module", "client.media").
		Bool("video", video != nil).Bool("audio", audio != nil).
		Msg("local media acquired")
	return c.stream, nil
}

// ToggleAudio flips the microphone and reports the new enabled state.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioOn = !c.audioOn
	return c.audioOn
}

// ToggleVideo flips the camera and reports the new enabled state.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoOn = !c.videoOn
	return c.videoOn
}

func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioOn
}

func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoOn
}

// StartScreenShare opens a screen-capture track. Ending the share outside
// the app triggers the same cleanup as StopScreenShare, so the call never
// keeps sending a dead track.
func (c *Controller) StartScreenShare() (Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, ErrAccessDenied
	}
	if c.screen != nil {
		return c.screen, nil
	}
	t, err := c.cap.DisplayMedia()
	if err != nil {
		return nil, err
	}
	t.OnEnded(func(err error) {
		c.handleScreenEnded(t, err)
	})
	c.screen = t
	log.Info().Str("module", "client.media").Msg("screen share started")
	return t, nil
}

// handleScreenEnded runs when the screen track dies on its own. When the
// controller initiated the stop the track is already detached and the
// callback does not fire again.
func (c *Controller) handleScreenEnded(t Track, err error) {
	c.mu.Lock()
	if c.screen != t {
		c.mu.Unlock()
		return
	}
	c.screen = nil
	cb := c.onScreenEnded
	c.mu.Unlock()

	log.Info().Err(err).Str("module", "client.media").Msg("screen share ended externally")
	_ = t.Close()
	if cb != nil {
		cb()
	}
}

// StopScreenShare stops the screen-capture device and hands back the
// camera track so the caller can restore it on the outbound sender.
// Idempotent: with no active share it just returns the camera track.
func (c *Controller) StopScreenShare() (Track, error) {
	c.mu.Lock()
	t := c.screen
	c.screen = nil
	var cam Track
	if c.stream != nil {
		cam = c.stream.video
	}
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("module", "client.media").Msg("screen track close")
		}
		log.Info().Str("module", "client.media").Msg("screen share stopped")
	}
	return cam, nil
}

// ReleaseAll stops every track the controller owns, each exactly once.
// Safe to call any number of times.
func (c *Controller) ReleaseAll() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	stream := c.stream
	screen := c.screen
	c.stream = nil
	c.screen = nil
	c.audioOn = false
	c.videoOn = false
	c.mu.Unlock()

	if screen != nil {
		_ = screen.Close()
	}
	if stream != nil {
		if stream.video != nil {
			_ = stream.video.Close()
		}
		if stream.audio != nil {
			_ = stream.audio.Close()
		}
	}
	log.Info().Str("module", "client.media").Msg("local media released")
}
