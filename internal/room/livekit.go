package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"
	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

const (
	opusSampleRate  = audio.SampleRate48k
	opusMaxFrame    = 5760 // 120ms at 48kHz
	outputTrackName = "agent-audio"
)

// LiveKitOptions configures a LiveKit room connection
type LiveKitOptions struct {
	URL       string
	APIKey    string
	APISecret string
	RoomName  string
	Identity  string
	Name      string
	Logger    *slog.Logger
}

// LiveKit is a Room backed by a LiveKit server
type LiveKit struct {
	opts   LiveKitOptions
	logger *slog.Logger

	mu        sync.RWMutex
	room      *lksdk.Room
	track     *lkmedia.PCMLocalTrack
	trackSID  string
	trackRate int
	handlers  handlers
	readers   map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLiveKit creates an unconnected LiveKit room
func NewLiveKit(opts LiveKitOptions) *LiveKit {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Identity == "" {
		opts.Identity = "agent-" + opts.RoomName
	}
	if opts.Name == "" {
		opts.Name = opts.Identity
	}

	return &LiveKit{
		opts:    opts,
		logger:  opts.Logger.With(slog.String("room", opts.RoomName)),
		readers: make(map[string]context.CancelFunc),
	}
}

func (l *LiveKit) Name() string          { return l.opts.RoomName }
func (l *LiveKit) LocalIdentity() string { return l.opts.Identity }
func (l *LiveKit) URL() string           { return l.opts.URL }

func (l *LiveKit) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.room != nil
}

// MintToken creates a join token for another participant in this room
func (l *LiveKit) MintToken(identity string, opts TokenOptions) (string, error) {
	if opts.Room == "" {
		opts.Room = l.opts.RoomName
	}
	return MintToken(l.opts.APIKey, l.opts.APISecret, identity, opts)
}

// Connect joins the room as an agent participant with auto-subscribe enabled
func (l *LiveKit) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.room != nil {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.mu.Unlock()

	l.logger.Info("Connecting to room",
		slog.String("url", l.opts.URL),
		slog.String("identity", l.opts.Identity))

	lkRoom, err := lksdk.ConnectToRoom(
		l.opts.URL,
		lksdk.ConnectInfo{
			APIKey:              l.opts.APIKey,
			APISecret:           l.opts.APISecret,
			RoomName:            l.opts.RoomName,
			ParticipantIdentity: l.opts.Identity,
			ParticipantName:     l.opts.Name,
			ParticipantKind:     lksdk.ParticipantAgent,
		},
		l.callbacks(),
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		l.cancel()
		return fmt.Errorf("failed to connect to room %s: %w", l.opts.RoomName, err)
	}

	l.mu.Lock()
	l.room = lkRoom
	fns := l.handlers.snapshotConnected()
	l.mu.Unlock()

	l.logger.Info("Connected to room", slog.String("sid", lkRoom.SID()))

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Disconnect stops track readers, unpublishes audio and leaves the room
func (l *LiveKit) Disconnect() {
	l.mu.Lock()
	lkRoom := l.room
	if lkRoom == nil {
		l.mu.Unlock()
		return
	}
	l.room = nil
	l.cancel()
	for id, cancel := range l.readers {
		cancel()
		delete(l.readers, id)
	}
	if l.track != nil {
		l.track.Close()
		l.track = nil
	}
	l.mu.Unlock()

	l.wg.Wait()
	lkRoom.Disconnect()
	l.logger.Info("Disconnected from room")
	l.fireDisconnected()
}

func (l *LiveKit) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers.connected = append(l.handlers.connected, fn)
}

func (l *LiveKit) OnDisconnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers.disconnected = append(l.handlers.disconnected, fn)
}

func (l *LiveKit) OnAudioFrame(fn AudioHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers.audio = append(l.handlers.audio, fn)
}

// PublishAudio writes PCM to the agent's microphone track, publishing it on first use
func (l *LiveKit) PublishAudio(frame audio.Frame) error {
	frame = audio.Mono(frame)

	l.mu.Lock()
	if l.room == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}
	if l.track == nil || l.trackRate != frame.SampleRate {
		if err := l.publishTrackLocked(frame.SampleRate); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	track := l.track
	l.mu.Unlock()

	if err := track.WriteSample(media.PCM16Sample(frame.Samples)); err != nil {
		return fmt.Errorf("failed to write audio sample: %w", err)
	}
	return nil
}

// ClearAudio drops audio queued on the output track
func (l *LiveKit) ClearAudio() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.track != nil {
		l.track.ClearQueue()
	}
}

func (l *LiveKit) publishTrackLocked(sampleRate int) error {
	if l.track != nil {
		if err := l.room.LocalParticipant.UnpublishTrack(l.trackSID); err != nil {
			l.logger.Warn("Failed to unpublish audio track", slog.String("error", err.Error()))
		}
		l.track.Close()
		l.track = nil
	}

	track, err := lkmedia.NewPCMLocalTrack(sampleRate, 1, nil)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}

	pub, err := l.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   outputTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return fmt.Errorf("failed to publish audio track: %w", err)
	}

	l.track = track
	l.trackSID = pub.SID()
	l.trackRate = sampleRate
	l.logger.Info("Published audio track",
		slog.String("sid", pub.SID()),
		slog.Int("sample_rate", sampleRate))
	return nil
}

// SendData publishes a reliable data packet on a topic
func (l *LiveKit) SendData(ctx context.Context, topic string, payload []byte, destinations ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	lkRoom := l.room
	l.mu.RUnlock()
	if lkRoom == nil {
		return ErrNotConnected
	}

	opts := []lksdk.DataPublishOption{
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	}
	if len(destinations) > 0 {
		opts = append(opts, lksdk.WithDataPublishDestination(destinations))
	}

	if err := lkRoom.LocalParticipant.PublishDataPacket(lksdk.UserData(payload), opts...); err != nil {
		return fmt.Errorf("failed to publish data on %s: %w", topic, err)
	}
	return nil
}

func (l *LiveKit) SetAttributes(attrs map[string]string) {
	l.mu.RLock()
	lkRoom := l.room
	l.mu.RUnlock()
	if lkRoom == nil {
		return
	}
	lkRoom.LocalParticipant.SetAttributes(attrs)
}

func (l *LiveKit) callbacks() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: l.handleTrackSubscribed,
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, _ *lksdk.RemoteParticipant) {
				l.stopReader(track.ID())
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			l.logger.Info("Participant joined", slog.String("participant", rp.Identity()))
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			l.logger.Info("Participant left", slog.String("participant", rp.Identity()))
		},
		OnDisconnected: func() {
			l.logger.Warn("Room connection closed by server")
			l.mu.Lock()
			wasConnected := l.room != nil
			l.room = nil
			if l.cancel != nil {
				l.cancel()
			}
			l.mu.Unlock()
			if wasConnected {
				l.fireDisconnected()
			}
		},
	}
}

func (l *LiveKit) fireDisconnected() {
	l.mu.RLock()
	fns := l.handlers.snapshotDisconnected()
	l.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *LiveKit) handleTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio || pub.Source() != livekit.TrackSource_MICROPHONE {
		return
	}
	if !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeOpus) {
		l.logger.Warn("Ignoring non-opus audio track",
			slog.String("participant", rp.Identity()),
			slog.String("codec", track.Codec().MimeType))
		return
	}
	// audio the avatar publishes on our behalf must not loop back into the model
	if rp.Attributes()[AttributePublishOnBehalf] == l.opts.Identity {
		return
	}

	l.mu.Lock()
	if l.ctx == nil || l.ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(l.ctx)
	l.readers[track.ID()] = cancel
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Info("Subscribed to audio track",
		slog.String("participant", rp.Identity()),
		slog.String("track", track.ID()))

	go l.readTrack(ctx, track, rp.Identity())
}

func (l *LiveKit) stopReader(trackID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.readers[trackID]; ok {
		cancel()
		delete(l.readers, trackID)
	}
}

// readTrack decodes Opus RTP payloads to 48kHz mono PCM and hands them to audio handlers
func (l *LiveKit) readTrack(ctx context.Context, track *webrtc.TrackRemote, participant string) {
	defer l.wg.Done()
	defer l.stopReader(track.ID())

	decoder, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		l.logger.Error("Failed to create opus decoder", slog.String("error", err.Error()))
		return
	}

	pcm := make([]int16, opusMaxFrame)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := track.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return
		}

		packet, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			var timeout interface{ Timeout() bool }
			if errors.As(err, &timeout) && timeout.Timeout() {
				continue
			}
			l.logger.Debug("Track read error",
				slog.String("track", track.ID()),
				slog.String("error", err.Error()))
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			l.logger.Debug("Failed to decode opus packet", slog.String("error", err.Error()))
			continue
		}
		if n == 0 {
			continue
		}

		frame := audio.Frame{
			Samples:    append([]int16(nil), pcm[:n]...),
			SampleRate: opusSampleRate,
			Channels:   1,
		}

		l.mu.RLock()
		fns := l.handlers.snapshotAudio()
		l.mu.RUnlock()
		for _, fn := range fns {
			fn(participant, frame)
		}
	}
}
