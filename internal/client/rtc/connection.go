package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoConnection = errors.New("no underlying connection")
	ErrNoSender     = errors.New("no sender for track kind")
	ErrClosed       = errors.New("connection closed")
)

// Manager owns the one bidirectional media connection of a call session.
// The underlying pion connection is constructed lazily on the first offer,
// whichever direction it comes from.
type Manager struct {
	cfg webrtc.Configuration
	api *webrtc.API

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	state   State
	buf     CandidateBuffer
	remote  RemoteStream
	senders map[webrtc.RTPCodecType]*webrtc.RTPSender

	onState          func(State)
	onLocalCandidate func(webrtc.ICECandidateInit)
}

type Option func(*Manager)

// WithAPI installs a pion API built with a custom media engine, needed when
// local tracks come from mediadevices with its own codec selector.
func WithAPI(api *webrtc.API) Option {
	return func(m *Manager) { m.api = api }
}

func NewManager(iceServers []webrtc.ICEServer, opts ...Option) *Manager {
	m := &Manager{
		cfg:     webrtc.Configuration{ICEServers: iceServers},
		state:   StateNew,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnStateChange sets the callback for state transitions. Must be set
// before negotiation starts.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// OnLocalCandidate sets the callback for newly gathered local candidates.
func (m *Manager) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	m.onLocalCandidate = fn
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) RemoteStream() *RemoteStream { return &m.remote }

// BufferedCandidates reports how many remote candidates are still waiting
// for the remote description.
func (m *Manager) BufferedCandidates() int { return m.buf.Len() }

func (m *Manager) ensureConnectionLocked() error {
	if m.state.Terminal() {
		return ErrClosed
	}
	if m.pc != nil {
		return nil
	}

	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if m.api != nil {
		pc, err = m.api.NewPeerConnection(m.cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(m.cfg)
	}
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.rtc").Str("transport_state", s.String()).Msg("peer state")
		ev, ok := FromTransportState(s)
		if !ok {
			return
		}
		m.applyEvent(ev)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		m.mu.Lock()
		cb := m.onLocalCandidate
		m.mu.Unlock()
		if cb != nil {
			cb(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "client.rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		m.remote.add(track)
	})

	m.pc = pc
	return nil
}

func (m *Manager) applyEvent(ev Event) {
	m.mu.Lock()
	next := Next(m.state, ev)
	changed := next != m.state
	m.state = next
	cb := m.onState
	m.mu.Unlock()
	if changed && cb != nil {
		cb(next)
	}
}

func (m *Manager) addTracksLocked(tracks []webrtc.TrackLocal) error {
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if _, ok := m.senders[t.Kind()]; ok {
			continue
		}
		sender, err := m.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		m.senders[t.Kind()] = sender
	}
	return nil
}

// CreateOffer builds the local half of the handshake. Candidates trickle
// through OnLocalCandidate as they are gathered.
func (m *Manager) CreateOffer(tracks ...webrtc.TrackLocal) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureConnectionLocked(); err != nil {
		return nil, err
	}
	if err := m.addTracksLocked(tracks); err != nil {
		return nil, err
	}
	offer, err := m.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := m.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	m.state = Next(m.state, EventNegotiate)
	return &offer, nil
}

// AcceptOffer applies the remote offer and produces the answer. Buffered
// candidates are applied, in arrival order, as soon as the remote
// description is set.
func (m *Manager) AcceptOffer(offer webrtc.SessionDescription, tracks ...webrtc.TrackLocal) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureConnectionLocked(); err != nil {
		return nil, err
	}
	if err := m.addTracksLocked(tracks); err != nil {
		return nil, err
	}
	if err := m.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	if err := m.drainLocked(); err != nil {
		return nil, err
	}
	answer, err := m.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := m.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	m.state = Next(m.state, EventNegotiate)
	return &answer, nil
}

// AcceptAnswer completes the handshake on the offering side.
func (m *Manager) AcceptAnswer(answer webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return ErrNoConnection
	}
	if err := m.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return m.drainLocked()
}

// drainLocked applies every buffered candidate in FIFO order. Call only
// after the remote description is set.
func (m *Manager) drainLocked() error {
	var errs []error
	for _, ci := range m.buf.Drain() {
		if err := m.pc.AddICECandidate(ci); err != nil {
			errs = append(errs, fmt.Errorf("apply buffered candidate: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AddRemoteCandidate applies a remote candidate, or buffers it when the
// remote description does not exist yet.
func (m *Manager) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil || m.pc.RemoteDescription() == nil {
		m.buf.Enqueue(ci)
		return nil
	}
	if err := m.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// ReplaceOutboundVideoTrack swaps the sent video track without a new
// offer/answer cycle. The caller stops the previous track's capture.
func (m *Manager) ReplaceOutboundVideoTrack(t webrtc.TrackLocal) error {
	return m.replaceTrack(webrtc.RTPCodecTypeVideo, t)
}

// ReplaceOutboundAudioTrack swaps (or, with nil, silences) the sent audio track.
func (m *Manager) ReplaceOutboundAudioTrack(t webrtc.TrackLocal) error {
	return m.replaceTrack(webrtc.RTPCodecTypeAudio, t)
}

func (m *Manager) replaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	m.mu.Lock()
	sender, ok := m.senders[kind]
	m.mu.Unlock()
	if !ok {
		return ErrNoSender
	}
	if err := sender.ReplaceTrack(t); err != nil {
		return fmt.Errorf("replace %s track: %w", kind, err)
	}
	return nil
}

// PumpRemoteTrack drains a remote track and, for video, periodically asks
// the sender for a fresh keyframe. Without a reader pion's receive buffer
// fills up and the track stalls. onPacket may be nil.
func (m *Manager) PumpRemoteTrack(ctx context.Context, t *webrtc.TrackRemote, pliInterval time.Duration, onPacket func(*rtp.Packet)) {
	if t.Kind() == webrtc.RTPCodecTypeVideo && pliInterval > 0 {
		go m.sendPLILoop(ctx, t, pliInterval)
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := t.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "client.rtc").
				Str("track_id", t.ID()).Msg("remote track read stopped")
			return
		}
		if onPacket != nil {
			onPacket(pkt)
		}
	}
}

func (m *Manager) sendPLILoop(ctx context.Context, t *webrtc.TrackRemote, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			pc := m.pc
			m.mu.Unlock()
			if pc == nil {
				return
			}
			err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(t.SSRC())},
			})
			if err != nil {
				log.Debug().Err(err).Str("module", "client.rtc").Msg("pli write")
				return
			}
		}
	}
}

// Close tears the connection down. Terminal; further negotiation fails
// with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	pc := m.pc
	m.pc = nil
	m.state = Next(m.state, EventTransportClosed)
	st := m.state
	cb := m.onState
	m.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "client.rtc").Msg("close error")
		}
	}
	m.remote.reset()
	if cb != nil {
		cb(st)
	}
}
