package camera

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/errors"
)

// fakeSource fills frames with a fixed size and fails after failAfter reads.
type fakeSource struct {
	reads     atomic.Int32
	failAfter int32
	closed    atomic.Bool
	inRead    atomic.Int32
	overlap   atomic.Bool
}

func (f *fakeSource) Read(m *gocv.Mat) bool {
	if f.inRead.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inRead.Add(-1)

	n := f.reads.Add(1)
	if f.failAfter > 0 && n > f.failAfter {
		return false
	}
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(m)
	return true
}

func (f *fakeSource) IsOpened() bool { return !f.closed.Load() }
func (f *fakeSource) Close() error   { f.closed.Store(true); return nil }

func newTestCamera(sources ...*fakeSource) (*Camera, *atomic.Int32) {
	var opens atomic.Int32
	cam := New(conf.CameraSettings{Device: 0, Width: 64, Height: 48}, WithOpener(func(conf.CameraSettings) (Source, error) {
		i := int(opens.Add(1)) - 1
		if i >= len(sources) {
			return nil, errors.NewStd("no such device")
		}
		return sources[i], nil
	}))
	return cam, &opens
}

func TestReadOpensLazily(t *testing.T) {
	t.Parallel()

	cam, opens := newTestCamera(&fakeSource{})
	defer cam.Close()
	assert.Equal(t, int32(0), opens.Load())

	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, cam.Read(&frame))
	require.NoError(t, cam.Read(&frame))

	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, 64, frame.Cols())
	assert.Equal(t, 48, frame.Rows())
}

func TestReadFailureReopens(t *testing.T) {
	t.Parallel()

	first := &fakeSource{failAfter: 1}
	second := &fakeSource{}
	cam, opens := newTestCamera(first, second)
	defer cam.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	require.NoError(t, cam.Read(&frame))
	err := cam.Read(&frame)
	require.ErrorIs(t, err, ErrReadFailed)
	assert.True(t, errors.IsCategory(err, errors.CategoryCamera))
	assert.True(t, first.closed.Load(), "failed source is released")

	require.NoError(t, cam.Read(&frame))
	assert.Equal(t, int32(2), opens.Load())
}

func TestOpenFailure(t *testing.T) {
	t.Parallel()

	cam, _ := newTestCamera()
	defer cam.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	err := cam.Read(&frame)
	require.ErrorIs(t, err, ErrCameraUnavailable)
	assert.False(t, cam.IsOpened())
}

func TestClosedCamera(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	cam, opens := newTestCamera(source, &fakeSource{})
	assert.True(t, cam.IsOpened())
	require.NoError(t, cam.Close())
	assert.True(t, source.closed.Load())

	frame := gocv.NewMat()
	defer frame.Close()
	require.ErrorIs(t, cam.Read(&frame), ErrCameraUnavailable)
	require.ErrorIs(t, cam.Open(), ErrCameraUnavailable)
	assert.False(t, cam.IsOpened())
	assert.Equal(t, int32(1), opens.Load(), "closed camera never reopens")
}

func TestConcurrentReadsAreSerialized(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	cam, _ := newTestCamera(source)
	defer cam.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame := gocv.NewMat()
			defer frame.Close()
			for range 10 {
				assert.NoError(t, cam.Read(&frame))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(80), source.reads.Load())
	assert.False(t, source.overlap.Load())
}
