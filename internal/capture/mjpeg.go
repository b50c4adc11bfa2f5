package capture

import (
	"bufio"
	"errors"
	"io"
)

// maxJPEGSize bounds one frame on the wire.
const maxJPEGSize = 16 << 20

var errFrameTooLarge = errors.New("jpeg frame exceeds size limit")

// mjpegReader splits a concatenated JPEG stream (ffmpeg image2pipe output)
// on SOI (FF D8) and EOI (FF D9) markers. Entropy-coded data stuffs every
// FF byte, so markers cannot appear inside a frame.
type mjpegReader struct {
	r   *bufio.Reader
	buf []byte
}

func newMJPEGReader(r io.Reader) *mjpegReader {
	return &mjpegReader{r: bufio.NewReaderSize(r, 256*1024)}
}

// next returns the next complete JPEG. The slice is freshly allocated. A
// stream ending between frames yields io.EOF; ending inside one yields
// io.ErrUnexpectedEOF.
func (m *mjpegReader) next() ([]byte, error) {
	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	m.buf = append(m.buf[:0], 0xFF, 0xD8)
	prev = 0
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		m.buf = append(m.buf, b)
		if prev == 0xFF && b == 0xD9 {
			out := make([]byte, len(m.buf))
			copy(out, m.buf)
			return out, nil
		}
		prev = b
		if len(m.buf) > maxJPEGSize {
			return nil, errFrameTooLarge
		}
	}
}
