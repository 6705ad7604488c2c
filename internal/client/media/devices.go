package media

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Register the capture drivers; blank imports are required.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

// DeviceCapturer captures from real devices through pion/mediadevices,
// encoding video as VP8 and audio as Opus.
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceCapturer() (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceCapturer{selector: selector}, nil
}

// API builds the pion API whose media engine knows the capturer's codecs.
// Peer connections carrying these tracks must come from this API.
func (d *DeviceCapturer) API() *webrtc.API {
	mediaEngine := webrtc.MediaEngine{}
	d.selector.Populate(&mediaEngine)
	return webrtc.NewAPI(webrtc.WithMediaEngine(&mediaEngine))
}

func (d *DeviceCapturer) UserMedia(c Constraints) (Track, Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			mt.FrameFormat = prop.FrameFormat(frame.FormatI420)
			if c.Width > 0 {
				mt.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				mt.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				mt.FrameRate = prop.Float(c.FrameRate)
			}
		}
	}
	if c.Audio {
		constraints.Audio = func(mt *mediadevices.MediaTrackConstraints) {
			mt.SampleRate = prop.Int(48000)
			mt.ChannelCount = prop.Int(1)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}

	var video, audio Track
	if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
		video = tracks[0]
	}
	if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
		audio = tracks[0]
	}
	if c.Video && video == nil || c.Audio && audio == nil {
		return nil, nil, fmt.Errorf("%w: requested device missing", ErrAccessDenied)
	}
	return video, audio, nil
}

func (d *DeviceCapturer) DisplayMedia() (Track, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: func(mt *mediadevices.MediaTrackConstraints) {
			mt.FrameFormat = prop.FrameFormat(frame.FormatI420)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no screen track", ErrAccessDenied)
	}
	return tracks[0], nil
}
