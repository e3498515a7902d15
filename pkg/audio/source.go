package audio

import "context"

// Source is a microphone or other PCM input. Open starts capture and
// returns a channel of frames in the requested format; the channel is
// closed when the device is lost, Close is called, or ctx is cancelled.
// chunkSize is the number of samples per frame.
type Source interface {
	Open(ctx context.Context, format Format, chunkSize int) (<-chan Frame, error)
	Close() error
}
