// callprobe is a headless call participant. It joins a room, negotiates
// the connection like the real client and counts the RTP it receives.
// Useful for smoke-testing a deployment from two terminals.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/client/call"
	"github.com/mentorlab/callkit/internal/client/media"
	"github.com/mentorlab/callkit/internal/client/rtc"
	"github.com/mentorlab/callkit/internal/client/signaling"
	"github.com/mentorlab/callkit/internal/config"
	"github.com/mentorlab/callkit/internal/domain"
)

func main() {
	var (
		signalURL = flag.String("signal", "ws://localhost:8080", "signaling server base url")
		roomID    = flag.String("room", "probe-room", "room to join")
		userID    = flag.String("id", "probe-1", "participant id")
		role      = flag.String("role", "student", "participant role")
		stun      = flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated stun urls")
		noVideo   = flag.Bool("no-video", false, "skip camera capture")
		noAudio   = flag.Bool("no-audio", false, "skip microphone capture")
		pli       = flag.Duration("pli", 3*time.Second, "keyframe request interval for received video")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stunURLs := strings.Split(*stun, ",")
	if err := config.ValidateSTUNURLs(stunURLs); err != nil {
		log.Fatal().Err(err).Msg("bad stun urls")
	}

	self, err := domain.NewParticipant(domain.ParticipantID(*userID), domain.Role(*role))
	if err != nil {
		log.Fatal().Err(err).Msg("bad participant")
	}

	capturer, err := media.NewDeviceCapturer()
	if err != nil {
		log.Fatal().Err(err).Msg("device capturer")
	}

	peer := rtc.NewManager(config.ICEServers(stunURLs), rtc.WithAPI(capturer.API()))
	sig := signaling.NewClient(*signalURL)
	med := media.NewController(capturer)

	session := call.NewSession(sig, peer, med, media.Constraints{
		Audio: !*noAudio,
		Video: !*noVideo,
		Width: 640, Height: 480, FrameRate: 30,
	})

	var packets atomic.Int64
	peer.RemoteStream().OnTrack(func(t *webrtc.TrackRemote) {
		log.Info().Str("kind", t.Kind().String()).Str("track", t.ID()).Msg("remote track")
		go peer.PumpRemoteTrack(ctx, t, *pli, func(*rtp.Packet) {
			packets.Add(1)
		})
	})

	if err := session.Connect(ctx, domain.RoomID(*roomID), self); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	log.Info().Str("room", *roomID).Str("id", *userID).Str("role", *role).Msg("probe connected")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			session.Disconnect()
			log.Info().Int64("rtp_packets", packets.Load()).Msg("probe done")
			return
		case <-ticker.C:
			log.Info().
				Str("phase", session.Phase().String()).
				Str("connection", session.ConnectionState().String()).
				Int64("rtp_packets", packets.Load()).
				Msg("probe status")
		}
	}
}
