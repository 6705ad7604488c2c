// Package call composes the signaling channel, the peer connection and the
// media controller into one connect → negotiate → connected → disconnect
// lifecycle for the UI layer.
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/client/media"
	"github.com/mentorlab/callkit/internal/client/rtc"
	"github.com/mentorlab/callkit/internal/client/signaling"
	"github.com/mentorlab/callkit/internal/domain"
)

// Phase is the session's own lifecycle tag, checked before any connect
// sequence starts so a duplicate connect is a no-op instead of a second
// channel.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseDisconnected
	PhaseFailed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseFailed:
		return "failed"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Signaler is the channel contract the session drives. *signaling.Client
// satisfies it.
type Signaler interface {
	Open(ctx context.Context, roomID domain.RoomID, p domain.Participant) error
	Send(*domain.Message) error
	Handle(domain.SignalType, signaling.Handler)
	OnDown(func(error))
	Close()
}

// Peer is the connection contract. *rtc.Manager satisfies it.
type Peer interface {
	CreateOffer(tracks ...webrtc.TrackLocal) (*webrtc.SessionDescription, error)
	AcceptOffer(offer webrtc.SessionDescription, tracks ...webrtc.TrackLocal) (*webrtc.SessionDescription, error)
	AcceptAnswer(webrtc.SessionDescription) error
	AddRemoteCandidate(webrtc.ICECandidateInit) error
	ReplaceOutboundVideoTrack(webrtc.TrackLocal) error
	ReplaceOutboundAudioTrack(webrtc.TrackLocal) error
	OnStateChange(func(rtc.State))
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	RemoteStream() *rtc.RemoteStream
	State() rtc.State
	Close()
}

// Media is the capture contract. *media.Controller satisfies it.
type Media interface {
	AcquireLocal(media.Constraints) (*media.LocalStream, error)
	StartScreenShare() (media.Track, error)
	StopScreenShare() (media.Track, error)
	OnScreenShareEnded(func())
	ToggleAudio() bool
	ToggleVideo() bool
	ReleaseAll()
}

type Session struct {
	sig  Signaler
	peer Peer
	med  Media
	cons media.Constraints

	mu        sync.Mutex
	phase     Phase
	self      domain.Participant
	roomID    domain.RoomID
	local     *media.LocalStream
	remote    *domain.Participant
	connState rtc.State
	lastErr   error
	offered   bool
	torndown  bool
}

func NewSession(sig Signaler, peer Peer, med Media, cons media.Constraints) *Session {
	return &Session{sig: sig, peer: peer, med: med, cons: cons}
}

// Observable fields for the UI layer.

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) ConnectionState() rtc.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

func (s *Session) LocalStream() *media.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) RemoteStream() *rtc.RemoteStream { return s.peer.RemoteStream() }

func (s *Session) RemoteParticipant() *domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return nil
	}
	r := *s.remote
	return &r
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect acquires local media, opens the signaling channel and joins the
// room. A connect already in progress or completed makes this a no-op.
func (s *Session) Connect(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		log.Info().Str("module", "client.call").Str("phase", s.phase.String()).Msg("connect ignored")
		return nil
	}
	s.phase = PhaseConnecting
	s.self = p
	s.roomID = roomID
	s.mu.Unlock()

	local, err := s.med.AcquireLocal(s.cons)
	if err != nil {
		s.fail(err)
		return err
	}
	s.mu.Lock()
	s.local = local
	s.mu.Unlock()

	s.wireHandlers()

	if err := s.sig.Open(ctx, roomID, p); err != nil {
		err = fmt.Errorf("%w: %v", ErrChannel, err)
		s.med.ReleaseAll()
		s.fail(err)
		return err
	}

	// The read loop is already running; a server error or channel drop may
	// have ended the session before Open returned. A terminal phase wins.
	s.mu.Lock()
	if s.phase == PhaseConnecting && !s.torndown {
		s.phase = PhaseActive
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) wireHandlers() {
	s.sig.Handle(domain.SignalUserConnected, s.onUserConnected)
	s.sig.Handle(domain.SignalUserJoined, s.onUserJoined)
	s.sig.Handle(domain.SignalOffer, s.onOffer)
	s.sig.Handle(domain.SignalAnswer, s.onAnswer)
	s.sig.Handle(domain.SignalICECandidate, s.onCandidate)
	s.sig.Handle(domain.SignalUserLeft, s.onPeerGone)
	s.sig.Handle(domain.SignalUserDisconnected, s.onPeerGone)
	s.sig.Handle(domain.SignalError, s.onServerError)
	s.sig.OnDown(s.onChannelDown)

	s.peer.OnLocalCandidate(func(ci webrtc.ICECandidateInit) {
		if err := s.sig.Send(domain.NewICECandidate(s.self, ci)); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Msg("candidate not sent")
		}
	})
	s.peer.OnStateChange(s.onTransportState)
	s.med.OnScreenShareEnded(s.restoreCamera)
}

func (s *Session) localTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	local := s.local
	s.mu.Unlock()
	if local == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	if t := local.VideoTrack(); t != nil {
		out = append(out, t)
	}
	if t := local.AudioTrack(); t != nil {
		out = append(out, t)
	}
	return out
}

// onUserConnected is the join ack; a late joiner learns the peer already
// waiting from it.
func (s *Session) onUserConnected(m *domain.Message) {
	if len(m.Peers) == 0 {
		return
	}
	s.setRemote(m.Peers[0])
	if m.ParticipantCount == domain.MaxOccupants {
		s.maybeOffer()
	}
}

func (s *Session) onUserJoined(m *domain.Message) {
	s.setRemote(domain.Participant{ID: m.UserID, Role: m.Role})
	if m.ParticipantCount == domain.MaxOccupants {
		s.maybeOffer()
	}
}

func (s *Session) setRemote(p domain.Participant) {
	s.mu.Lock()
	s.remote = &p
	s.mu.Unlock()
}

// maybeOffer starts the handshake if and only if this side is the
// designated initiator. The offered flag keeps the handshake single-flight
// for the room.
func (s *Session) maybeOffer() {
	s.mu.Lock()
	if s.offered || s.remote == nil || s.torndown {
		s.mu.Unlock()
		return
	}
	if domain.InitiatorOf(s.self, *s.remote).ID != s.self.ID {
		s.mu.Unlock()
		return
	}
	s.offered = true
	s.mu.Unlock()

	offer, err := s.peer.CreateOffer(s.localTracks()...)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrNegotiation, err))
		return
	}
	if err := s.sig.Send(domain.NewOffer(s.self, *offer)); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrChannel, err))
		return
	}
	log.Info().Str("module", "client.call").Msg("offer sent")
}

func (s *Session) onOffer(m *domain.Message) {
	if m.Offer == nil {
		log.Warn().Str("module", "client.call").Msg("offer without description")
		return
	}
	s.mu.Lock()
	if s.offered {
		// Glare: both sides believed they initiate. The policy tie-break
		// makes this unreachable for honest peers; drop the offer.
		s.mu.Unlock()
		log.Warn().Str("module", "client.call").Msg("offer received while offering, dropped")
		return
	}
	s.mu.Unlock()

	s.setRemote(m.Sender())
	answer, err := s.peer.AcceptOffer(*m.Offer, s.localTracks()...)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrNegotiation, err))
		return
	}
	if err := s.sig.Send(domain.NewAnswer(s.self, *answer)); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrChannel, err))
		return
	}
	log.Info().Str("module", "client.call").Msg("answer sent")
}

func (s *Session) onAnswer(m *domain.Message) {
	if m.Answer == nil {
		log.Warn().Str("module", "client.call").Msg("answer without description")
		return
	}
	if err := s.peer.AcceptAnswer(*m.Answer); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrNegotiation, err))
	}
}

func (s *Session) onCandidate(m *domain.Message) {
	if m.Candidate == nil {
		return
	}
	if err := s.peer.AddRemoteCandidate(*m.Candidate); err != nil {
		// A single bad candidate must not end the call.
		log.Warn().Err(err).Str("module", "client.call").Msg("candidate rejected")
	}
}

func (s *Session) onPeerGone(m *domain.Message) {
	log.Info().Str("module", "client.call").Str("participant", string(m.UserID)).
		Str("type", string(m.Type)).Msg("peer gone")
	s.mu.Lock()
	s.remote = nil
	s.offered = false
	s.mu.Unlock()
}

func (s *Session) onServerError(m *domain.Message) {
	s.fail(fmt.Errorf("%w: %s", ErrChannel, m.Error))
	s.teardown(PhaseFailed)
}

func (s *Session) onChannelDown(err error) {
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.lastErr = fmt.Errorf("%w: %v", ErrChannel, err)
	s.mu.Unlock()
	s.teardown(PhaseDisconnected)
}

func (s *Session) onTransportState(st rtc.State) {
	s.mu.Lock()
	s.connState = st
	if st == rtc.StateFailed {
		s.lastErr = ErrPeerUnreachable
		s.phase = PhaseFailed
	}
	s.mu.Unlock()
	log.Info().Str("module", "client.call").Str("state", st.String()).Msg("connection state")
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.phase = PhaseFailed
	s.mu.Unlock()
	log.Error().Err(err).Str("module", "client.call").Msg("session failed")
}

// StartScreenShare swaps the outbound video track for a screen-capture
// track. No renegotiation happens; the receiver keeps the same sender.
func (s *Session) StartScreenShare() error {
	t, err := s.med.StartScreenShare()
	if err != nil {
		return err
	}
	if err := s.peer.ReplaceOutboundVideoTrack(t); err != nil {
		_, _ = s.med.StopScreenShare()
		return err
	}
	return nil
}

// StopScreenShare stops the capture and restores the camera track.
func (s *Session) StopScreenShare() error {
	cam, err := s.med.StopScreenShare()
	if err != nil {
		return err
	}
	return s.replaceVideo(cam)
}

// restoreCamera runs when the share ends from outside the app.
func (s *Session) restoreCamera() {
	s.mu.Lock()
	var cam media.Track
	if s.local != nil {
		cam = s.local.VideoTrack()
	}
	s.mu.Unlock()
	if err := s.replaceVideo(cam); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Msg("camera restore")
	}
}

func (s *Session) replaceVideo(t media.Track) error {
	if t == nil {
		return s.peer.ReplaceOutboundVideoTrack(nil)
	}
	return s.peer.ReplaceOutboundVideoTrack(t)
}

// ToggleAudio flips the microphone; while muted the audio sender carries
// no track.
func (s *Session) ToggleAudio() bool {
	on := s.med.ToggleAudio()
	var t webrtc.TrackLocal
	if on {
		s.mu.Lock()
		if s.local != nil && s.local.AudioTrack() != nil {
			t = s.local.AudioTrack()
		}
		s.mu.Unlock()
	}
	if err := s.peer.ReplaceOutboundAudioTrack(t); err != nil && err != rtc.ErrNoSender {
		log.Warn().Err(err).Str("module", "client.call").Msg("audio toggle")
	}
	return on
}

// ToggleVideo flips the camera; while disabled the video sender carries
// no track.
func (s *Session) ToggleVideo() bool {
	on := s.med.ToggleVideo()
	var t media.Track
	if on {
		s.mu.Lock()
		if s.local != nil {
			t = s.local.VideoTrack()
		}
		s.mu.Unlock()
	}
	if err := s.replaceVideo(t); err != nil && err != rtc.ErrNoSender {
		log.Warn().Err(err).Str("module", "client.call").Msg("video toggle")
	}
	return on
}

// Disconnect tears everything down: best-effort leave, close the peer
// connection, stop every owned track, clear the remote fields. Safe to
// call from any state, any number of times.
func (s *Session) Disconnect() {
	s.teardown(PhaseClosed)
}

func (s *Session) teardown(final Phase) {
	s.mu.Lock()
	if s.torndown {
		s.phase = final
		s.mu.Unlock()
		return
	}
	s.torndown = true
	s.phase = final
	s.remote = nil
	s.offered = false
	s.mu.Unlock()

	s.sig.Close()
	s.peer.Close()
	s.med.ReleaseAll()
	log.Info().Str("module", "client.call").Str("phase", final.String()).Msg("session torn down")
}
