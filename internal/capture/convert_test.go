package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/edirooss/groundstation/internal/domain/stream"
)

func TestConvert(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	src.Set(1, 1, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	if got := Convert(src, stream.Color, stream.Source); got != image.Image(src) {
		t.Fatal("pass-through copied the image")
	}

	gray := Convert(src, stream.Gray, stream.Source)
	if _, ok := gray.(*image.Gray); !ok {
		t.Fatalf("gray is %T", gray)
	}
	if gray.Bounds() != src.Bounds() {
		t.Fatalf("gray bounds = %v", gray.Bounds())
	}

	small := Convert(src, stream.Color, stream.Fixed(32, 24))
	if b := small.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("scaled bounds = %v", b)
	}

	same := Convert(src, stream.Color, stream.Fixed(64, 48))
	if same != image.Image(src) {
		t.Fatal("same-size scaling copied the image")
	}

	both := Convert(src, stream.Gray, stream.Fixed(16, 12))
	if g, ok := both.(*image.Gray); !ok || g.Bounds().Dx() != 16 {
		t.Fatalf("gray+scale = %T %v", both, both.Bounds())
	}
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMJPEGReaderSplitsFrames(t *testing.T) {
	a, b := encodeJPEG(t, 8, 8), encodeJPEG(t, 16, 4)
	var pipe bytes.Buffer
	pipe.WriteString("junk before the first frame")
	pipe.Write(a)
	pipe.Write(b)

	r := newMJPEGReader(&pipe)
	for i, want := range [][]byte{a, b} {
		got, err := r.next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: %d bytes, want %d", i, len(got), len(want))
		}
		if _, err := jpeg.Decode(bytes.NewReader(got)); err != nil {
			t.Fatalf("frame %d does not decode: %v", i, err)
		}
	}
	if _, err := r.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("after last frame err = %v, want EOF", err)
	}
}

func TestMJPEGReaderTruncatedFrame(t *testing.T) {
	a := encodeJPEG(t, 8, 8)
	r := newMJPEGReader(bytes.NewReader(a[:len(a)-10]))
	if _, err := r.next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
}

func TestRecordingPath(t *testing.T) {
	at := time.Date(2024, time.March, 7, 9, 5, 3, 0, time.Local)
	got := RecordingPath("videos", "Front Cam", at)
	want := filepath.Join("videos", "7-3-2024", "front-cam_9-5-3.avi")
	if got != want {
		t.Fatalf("path = %q, want %q", got, want)
	}
}
