package audio

import "errors"

// ErrInvalidWAV indicates the file is not a readable RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("invalid wav file")

// ErrUnsupportedFormat indicates a WAV encoding other than 16/24/32-bit PCM.
var ErrUnsupportedFormat = errors.New("unsupported wav format")
