package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/avatar-agent/internal/agent"
	"github.com/skypro1111/avatar-agent/internal/audio"
)

// Options configures the local audio device
type Options struct {
	InputRate  int // microphone sample rate
	OutputRate int // speaker sample rate
	FrameSize  time.Duration
	RecordPath string // optional WAV file receiving the agent's speech
	Logger     *slog.Logger
}

// Device is a microphone and speaker pair backed by PortAudio
type Device struct {
	opts   Options
	logger *slog.Logger

	input   *portaudio.Stream
	output  *portaudio.Stream
	inBuf   []int16
	frames  chan audio.Frame
	speaker *Speaker

	recorder *audio.Recorder

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// Open initializes PortAudio and starts the default input and output streams
func Open(opts Options) (*Device, error) {
	if opts.InputRate <= 0 {
		opts.InputRate = audio.SampleRate16k
	}
	if opts.OutputRate <= 0 {
		opts.OutputRate = audio.SampleRate24k
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = 20 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	d := &Device{
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "console")),
		inBuf:   make([]int16, samplesPerFrame(opts.InputRate, opts.FrameSize)),
		frames:  make(chan audio.Frame, 50),
		speaker: NewSpeaker(opts.OutputRate),
		done:    make(chan struct{}),
	}

	if opts.RecordPath != "" {
		rec, err := audio.CreateRecorder(opts.RecordPath, opts.OutputRate)
		if err != nil {
			portaudio.Terminate()
			return nil, err
		}
		d.recorder = rec
		d.speaker.recorder = rec
	}

	input, err := portaudio.OpenDefaultStream(1, 0, float64(opts.InputRate), len(d.inBuf), d.inBuf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	d.input = input

	output, err := portaudio.OpenDefaultStream(0, 1, float64(opts.OutputRate),
		samplesPerFrame(opts.OutputRate, opts.FrameSize), d.speaker.fill)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	d.output = output

	if err := d.input.Start(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}
	if err := d.output.Start(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to start speaker: %w", err)
	}

	d.wg.Add(1)
	go d.readLoop()

	d.logger.Info("Console audio started",
		slog.Int("input_rate", opts.InputRate),
		slog.Int("output_rate", opts.OutputRate),
		slog.String("record_path", opts.RecordPath))
	return d, nil
}

func samplesPerFrame(rate int, frame time.Duration) int {
	return int(int64(rate) * int64(frame) / int64(time.Second))
}

// LocalIO returns the device as agent session I/O
func (d *Device) LocalIO() *agent.LocalIO {
	return &agent.LocalIO{Input: d.frames, Output: d.speaker}
}

// Speaker returns the output side of the device
func (d *Device) Speaker() *Speaker { return d.speaker }

func (d *Device) readLoop() {
	defer d.wg.Done()
	defer close(d.frames)

	for {
		select {
		case <-d.done:
			return
		default:
		}

		if err := d.input.Read(); err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			d.logger.Warn("Microphone read failed", slog.String("error", err.Error()))
			continue
		}

		samples := make([]int16, len(d.inBuf))
		copy(samples, d.inBuf)
		frame := audio.Frame{Samples: samples, SampleRate: d.opts.InputRate, Channels: 1}

		select {
		case d.frames <- frame:
		case <-d.done:
			return
		default:
			// session is behind; drop rather than block the device
		}
	}
}

// Close stops both streams, finalizes the recording and terminates PortAudio
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		if d.input != nil {
			if stopErr := d.input.Stop(); stopErr != nil {
				err = fmt.Errorf("failed to stop microphone: %w", stopErr)
			}
		}
		d.wg.Wait()
		if relErr := d.release(); relErr != nil && err == nil {
			err = relErr
		}
		d.logger.Info("Console audio stopped")
	})
	return err
}

func (d *Device) release() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.output != nil {
		d.output.Stop()
		keep(d.output.Close())
	}
	if d.input != nil {
		keep(d.input.Close())
	}
	if d.recorder != nil {
		keep(d.recorder.Close())
	}
	keep(portaudio.Terminate())
	return firstErr
}

// Speaker queues agent speech for the PortAudio output callback
type Speaker struct {
	rate     int
	recorder *audio.Recorder

	mu    sync.Mutex
	queue []int16
}

// NewSpeaker creates a speaker playing at rate
func NewSpeaker(rate int) *Speaker {
	return &Speaker{rate: rate}
}

// WriteAudio implements agent.AudioSink
func (s *Speaker) WriteAudio(_ context.Context, frame audio.Frame) error {
	pcm := audio.Resample(frame, s.rate)

	s.mu.Lock()
	s.queue = append(s.queue, pcm.Samples...)
	rec := s.recorder
	s.mu.Unlock()

	if rec != nil {
		if err := rec.WriteFrame(pcm); err != nil {
			return fmt.Errorf("failed to record agent audio: %w", err)
		}
	}
	return nil
}

// Clear drops speech that has not been played yet
func (s *Speaker) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = s.queue[:0]
}

// Pending returns the number of queued samples
func (s *Speaker) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// fill is the PortAudio output callback; it pads with silence when the queue runs dry
func (s *Speaker) fill(out []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(out, s.queue)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	s.queue = s.queue[:copy(s.queue, s.queue[n:])]
}
