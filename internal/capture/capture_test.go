package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, encodePNG(t, w, h), 0600))
}

func TestNewFrameRejectsEmptyImage(t *testing.T) {
	_, err := NewFrame(image.NewRGBA(image.Rect(0, 0, 0, 0)), time.Now())
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = NewFrame(nil, time.Now())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDecode(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	f, err := Decode(encodePNG(t, 40, 30), ts)
	require.NoError(t, err)
	assert.Equal(t, 40, f.Width)
	assert.Equal(t, 30, f.Height)
	assert.Equal(t, ts, f.Timestamp)

	_, err = Decode(nil, ts)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = Decode([]byte("not an image"), ts)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotReady)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("shot.PNG"))
	assert.True(t, IsImageFile("/tmp/a.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("shot.png.tmp"))
}

func TestDirSourceExistingFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "old.png"), 10, 10)
	time.Sleep(10 * time.Millisecond)
	writePNG(t, filepath.Join(dir, "new.png"), 20, 10)
	now := time.Now()
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.png"), now.Add(-time.Hour), now.Add(-time.Hour)))

	src := NewDirSource(dir, nil)
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	f, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, f.Width)
}

func TestDirSourceNotReadyUntilFrameArrives(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir, nil)
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()

	_, err := src.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0600))
	writePNG(t, filepath.Join(dir, "frame.png"), 16, 9)

	assert.Eventually(t, func() bool {
		f, err := src.Capture(context.Background())
		return err == nil && f.Width == 16 && f.Height == 9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirSourceRemovedFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	writePNG(t, path, 8, 8)

	src := NewDirSource(dir, nil)
	require.NoError(t, src.Open(context.Background()))
	defer src.Close()
	require.Equal(t, path, src.Latest())

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, err := src.Capture(context.Background())
		return err == ErrNotReady
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirSourceMissingDir(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, src.Open(context.Background()))
	assert.NoError(t, src.Close())
}

func TestDirSourceClose(t *testing.T) {
	src := NewDirSource(t.TempDir(), nil)
	require.NoError(t, src.Open(context.Background()))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, err := src.Capture(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, src.Open(context.Background()), ErrClosed)
}

func TestCommandSource(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses cat")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "shot.png")
	writePNG(t, path, 12, 7)

	src := NewCommandSource([]string{"cat", path}, nil)
	_, err := src.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, src.Open(context.Background()))
	f, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, f.Width)
	assert.Equal(t, 7, f.Height)

	require.NoError(t, src.Close())
	_, err = src.Capture(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandSourceMissingBinary(t *testing.T) {
	src := NewCommandSource([]string{"proctord-no-such-screenshot-tool"}, nil)
	assert.Error(t, src.Open(context.Background()))

	assert.Error(t, NewCommandSource(nil, nil).Open(context.Background()))
}

type fixedSource struct {
	frame *Frame
	err   error
}

func (s *fixedSource) Open(context.Context) error { return nil }
func (s *fixedSource) Capture(context.Context) (*Frame, error) {
	return s.frame, s.err
}
func (s *fixedSource) Close() error { return nil }

func TestRecorder(t *testing.T) {
	src := &fixedSource{err: ErrNotReady}
	r := NewRecorder(src)

	_, _, ok := r.LastSize()
	assert.False(t, ok)

	_, err := r.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	_, _, ok = r.LastSize()
	assert.False(t, ok)

	src.frame, src.err = &Frame{Width: 2560, Height: 1440}, nil
	_, err = r.Capture(context.Background())
	require.NoError(t, err)

	w, h, ok := r.LastSize()
	assert.True(t, ok)
	assert.Equal(t, 2560, w)
	assert.Equal(t, 1440, h)
}
