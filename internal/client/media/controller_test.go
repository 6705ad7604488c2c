package media

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

type fakeTrack struct {
	kind webrtc.RTPCodecType
	id   string

	mu      sync.Mutex
	closed  int
	onEnded func(error)
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "fake" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

func (t *fakeTrack) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *fakeTrack) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// end simulates the device dying on its own, e.g. the OS stop-share button.
func (t *fakeTrack) end(err error) {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

type fakeCapturer struct {
	video, audio *fakeTrack
	screens      []*fakeTrack
	userErr      error
	screenErr    error
	userCalls    int
}

func (f *fakeCapturer) UserMedia(Constraints) (Track, Track, error) {
	f.userCalls++
	if f.userErr != nil {
		return nil, nil, f.userErr
	}
	return f.video, f.audio, nil
}

func (f *fakeCapturer) DisplayMedia() (Track, error) {
	if f.screenErr != nil {
		return nil, f.screenErr
	}
	t := &fakeTrack{kind: webrtc.RTPCodecTypeVideo, id: "screen"}
	f.screens = append(f.screens, t)
	return t, nil
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		video: &fakeTrack{kind: webrtc.RTPCodecTypeVideo, id: "cam"},
		audio: &fakeTrack{kind: webrtc.RTPCodecTypeAudio, id: "mic"},
	}
}

func TestAcquireLocalIdempotent(t *testing.T) {
	t.Parallel()

	cap := newFakeCapturer()
	c := NewController(cap)

	s1, err := c.AcquireLocal(Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := c.AcquireLocal(Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("second acquire returned a different stream")
	}
	if cap.userCalls != 1 {
		t.Fatalf("device opened %d times", cap.userCalls)
	}
	if !c.AudioEnabled() || !c.VideoEnabled() {
		t.Fatal("tracks not enabled after acquire")
	}
}

func TestAcquireLocalDenied(t *testing.T) {
	t.Parallel()

	cap := newFakeCapturer()
	cap.userErr = ErrAccessDenied
	c := NewController(cap)

	if _, err := c.AcquireLocal(Constraints{Video: true}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("error = %v", err)
	}
}

func TestToggles(t *testing.T) {
	t.Parallel()

	c := NewController(newFakeCapturer())
	if _, err := c.AcquireLocal(Constraints{Audio: true, Video: true}); err != nil {
		t.Fatal(err)
	}

	if on := c.ToggleAudio(); on {
		t.Fatal("first toggle should mute")
	}
	if on := c.ToggleAudio(); !on {
		t.Fatal("second toggle should unmute")
	}
	if on := c.ToggleVideo(); on {
		t.Fatal("first video toggle should disable")
	}
	if c.VideoEnabled() {
		t.Fatal("video flag out of sync")
	}
}

func TestScreenShareLifecycle(t *testing.T) {
	t.Parallel()

	cap := newFakeCapturer()
	c := NewController(cap)
	if _, err := c.AcquireLocal(Constraints{Video: true}); err != nil {
		t.Fatal(err)
	}

	screen, err := c.StartScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	// Starting again reuses the active share.
	again, err := c.StartScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	if screen != again {
		t.Fatal("second start opened a second capture")
	}
	if len(cap.screens) != 1 {
		t.Fatalf("screen captures opened = %d", len(cap.screens))
	}

	cam, err := c.StopScreenShare()
	if err != nil {
		t.Fatal(err)
	}
	if cam == nil || cam.ID() != "cam" {
		t.Fatalf("camera not handed back: %v", cam)
	}
	if cap.screens[0].closeCount() != 1 {
		t.Fatalf("screen track closed %d times", cap.screens[0].closeCount())
	}

	// Stop with no active share is a no-op that still returns the camera.
	cam, err = c.StopScreenShare()
	if err != nil || cam == nil {
		t.Fatalf("idempotent stop = %v, %v", cam, err)
	}
	if cap.screens[0].closeCount() != 1 {
		t.Fatal("idempotent stop closed the track again")
	}
}

func TestScreenShareEndsExternally(t *testing.T) {
	t.Parallel()

	cap := newFakeCapturer()
	c := NewController(cap)
	if _, err := c.AcquireLocal(Constraints{Video: true}); err != nil {
		t.Fatal(err)
	}

	ended := make(chan struct{}, 1)
	c.OnScreenShareEnded(func() { ended <- struct{}{} })

	if _, err := c.StartScreenShare(); err != nil {
		t.Fatal(err)
	}
	cap.screens[0].end(errors.New("stopped by user"))

	select {
	case <-ended:
	default:
		t.Fatal("external end did not fire the callback")
	}
	if cap.screens[0].closeCount() != 1 {
		t.Fatalf("screen track closed %d times", cap.screens[0].closeCount())
	}

	// The controller detached the track; a later stop must not double-close.
	if _, err := c.StopScreenShare(); err != nil {
		t.Fatal(err)
	}
	if cap.screens[0].closeCount() != 1 {
		t.Fatal("stop after external end closed the track again")
	}
}

func TestReleaseAllClosesEverythingOnce(t *testing.T) {
	t.Parallel()

	cap := newFakeCapturer()
	c := NewController(cap)
	if _, err := c.AcquireLocal(Constraints{Audio: true, Video: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartScreenShare(); err != nil {
		t.Fatal(err)
	}

	c.ReleaseAll()
	c.ReleaseAll()

	if cap.video.closeCount() != 1 || cap.audio.closeCount() != 1 {
		t.Fatalf("camera/mic closed %d/%d times", cap.video.closeCount(), cap.audio.closeCount())
	}
	if cap.screens[0].closeCount() != 1 {
		t.Fatalf("screen closed %d times", cap.screens[0].closeCount())
	}

	// A released controller refuses new captures.
	if _, err := c.AcquireLocal(Constraints{Video: true}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("acquire after release = %v", err)
	}
	if _, err := c.StartScreenShare(); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("share after release = %v", err)
	}
}
