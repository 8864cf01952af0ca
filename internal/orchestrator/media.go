package orchestrator

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/domain"
)

// MediaLink is one negotiated media connection to a remote participant.
// Callbacks must be registered before negotiation starts.
type MediaLink interface {
	CreateOffer() (core.SDPPayload, error)
	AcceptOffer(offer core.SDPPayload) (core.SDPPayload, error)
	AcceptAnswer(answer core.SDPPayload) error
	AddCandidate(cand core.CandidatePayload) error
	OnRemoteTrack(fn func())
	OnTransportFailed(fn func())
	OnCandidate(fn func(core.CandidatePayload))
	Close()
}

// MediaFactory builds a fresh MediaLink for a remote participant. Every
// retry round gets a new one.
type MediaFactory func(remote domain.SessionID) (MediaLink, error)

func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewPionFactory returns a MediaFactory producing real peer connections.
// The given local tracks are attached to every link before negotiation.
func NewPionFactory(cfg webrtc.Configuration, tracks ...*webrtc.TrackLocalStaticRTP) MediaFactory {
	return func(remote domain.SessionID) (MediaLink, error) {
		return newPionLink(cfg, remote, tracks)
	}
}

type pionLink struct {
	pc     *webrtc.PeerConnection
	remote domain.SessionID

	onTrack     func()
	onFailed    func()
	onCandidate func(core.CandidatePayload)
}

func newPionLink(cfg webrtc.Configuration, remote domain.SessionID, tracks []*webrtc.TrackLocalStaticRTP) (*pionLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &pionLink{pc: pc, remote: remote}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "media").
			Str("remote", string(l.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		if l.onTrack != nil {
			l.onTrack()
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "media").Str("remote", string(l.remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			if l.onFailed != nil {
				l.onFailed()
			}
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && l.onCandidate != nil {
			init := cand.ToJSON()
			l.onCandidate(core.CandidatePayload{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		}
	})

	return l, nil
}

func (l *pionLink) CreateOffer() (core.SDPPayload, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return core.SDPPayload{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return core.SDPPayload{}, err
	}
	<-gatherComplete

	return core.SDPPayload{SDP: l.pc.LocalDescription().SDP}, nil
}

func (l *pionLink) AcceptOffer(offer core.SDPPayload) (core.SDPPayload, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return core.SDPPayload{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return core.SDPPayload{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return core.SDPPayload{}, err
	}
	<-gatherComplete

	return core.SDPPayload{SDP: l.pc.LocalDescription().SDP}, nil
}

func (l *pionLink) AcceptAnswer(answer core.SDPPayload) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP})
}

func (l *pionLink) AddCandidate(cand core.CandidatePayload) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

func (l *pionLink) OnRemoteTrack(fn func()) { l.onTrack = fn }

func (l *pionLink) OnTransportFailed(fn func()) { l.onFailed = fn }

func (l *pionLink) OnCandidate(fn func(core.CandidatePayload)) { l.onCandidate = fn }

func (l *pionLink) Close() {
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Str("remote", string(l.remote)).Msg("close error")
	}
}
