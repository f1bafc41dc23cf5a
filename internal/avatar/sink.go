package avatar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/avatar-agent/internal/audio"
	"github.com/skypro1111/avatar-agent/internal/room"
)

// Data topics understood by the avatar participant
const (
	TopicAudioStream = "lk.audio_stream"
	TopicClearBuffer = "lk.clear_buffer"
)

const (
	// SinkSampleRate is the rate the avatar expects its audio in
	SinkSampleRate = 16000
	// maxChunkBytes keeps each data packet under the reliable packet limit
	maxChunkBytes = 6400
)

// DataStreamSink forwards agent audio to the avatar participant over the
// room's data channel instead of publishing an audio track
type DataStreamSink struct {
	room        room.Room
	destination string
	logger      *slog.Logger
}

// NewDataStreamSink creates a sink addressed to destination
func NewDataStreamSink(r room.Room, destination string, logger *slog.Logger) *DataStreamSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataStreamSink{room: r, destination: destination, logger: logger}
}

// Destination returns the avatar identity audio is addressed to
func (s *DataStreamSink) Destination() string { return s.destination }

// WriteAudio resamples frame to 16kHz mono and sends it in packet-sized chunks
func (s *DataStreamSink) WriteAudio(ctx context.Context, frame audio.Frame) error {
	pcm := audio.Resample(frame, SinkSampleRate).Bytes()
	for len(pcm) > 0 {
		n := min(len(pcm), maxChunkBytes)
		if err := s.room.SendData(ctx, TopicAudioStream, pcm[:n], s.destination); err != nil {
			return fmt.Errorf("failed to stream audio to avatar: %w", err)
		}
		pcm = pcm[n:]
	}
	return nil
}

// Clear tells the avatar to drop buffered speech
func (s *DataStreamSink) Clear() {
	if err := s.room.SendData(context.Background(), TopicClearBuffer, nil, s.destination); err != nil {
		s.logger.Warn("Failed to clear avatar buffer", slog.String("error", err.Error()))
	}
}
