package surface

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	// Registered for image.Decode; some screenshot tools emit JPEG.
	_ "image/jpeg"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Scaler presents a wrapped Surface at a fixed logical resolution. Snapshots
// are resampled to the logical size and every coordinate is mapped from
// logical to physical space before it reaches the wrapped surface.
type Scaler struct {
	inner   Surface
	logical Resolution
	logger  *zap.Logger

	mu       sync.Mutex
	physical *Resolution
}

var _ Surface = (*Scaler)(nil)

// NewScaler wraps inner at the given logical resolution.
func NewScaler(inner Surface, logical Resolution, logger *zap.Logger) (*Scaler, error) {
	if inner == nil {
		return nil, fmt.Errorf("scaler requires a surface to wrap")
	}
	if !logical.Valid() {
		return nil, fmt.Errorf("logical resolution must be positive, got %s", logical)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scaler{
		inner:   inner,
		logical: logical,
		logger:  logger.Named("scaler"),
	}, nil
}

// Logical returns the fixed logical resolution.
func (s *Scaler) Logical() Resolution { return s.logical }

// physicalResolution discovers the wrapped surface's size once. Only a
// successful discovery is memoized.
func (s *Scaler) physicalResolution(ctx context.Context) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.physical != nil {
		return *s.physical, nil
	}
	res, err := s.inner.Resolution(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if !res.Valid() {
		return Resolution{}, &CaptureError{Err: fmt.Errorf("surface reported invalid resolution %s", res)}
	}
	s.physical = &res
	s.logger.Debug("Discovered physical resolution",
		zap.Stringer("physical", res),
		zap.Stringer("logical", s.logical))
	return res, nil
}

// toPhysical maps a logical point into the wrapped surface's space.
func (s *Scaler) toPhysical(ctx context.Context, x, y int) (int, int, error) {
	phys, err := s.physicalResolution(ctx)
	if err != nil {
		return 0, 0, err
	}
	scaleX := float64(phys.Width) / float64(s.logical.Width)
	scaleY := float64(phys.Height) / float64(s.logical.Height)
	return int(math.Round(float64(x) * scaleX)), int(math.Round(float64(y) * scaleY)), nil
}

// Resolution always reports the logical resolution.
func (s *Scaler) Resolution(context.Context) (Resolution, error) {
	return s.logical, nil
}

// Snapshot captures a physical frame and resamples it to the logical size.
func (s *Scaler) Snapshot(ctx context.Context) (string, error) {
	raw, err := s.inner.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", &CaptureError{Err: fmt.Errorf("decoding snapshot payload: %w", err)}
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", &CaptureError{Err: fmt.Errorf("decoding snapshot image: %w", err)}
	}

	dst := Resample(src, s.logical)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", &CaptureError{Err: fmt.Errorf("encoding scaled snapshot: %w", err)}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Resample scales src to size with a Catmull-Rom kernel, which keeps UI text
// legible where nearest-neighbor would not.
func Resample(src image.Image, size Resolution) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func (s *Scaler) Click(ctx context.Context, x, y int, button Button) error {
	px, py, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.inner.Click(ctx, px, py, button)
}

func (s *Scaler) DoubleClick(ctx context.Context, x, y int) error {
	px, py, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.inner.DoubleClick(ctx, px, py)
}

func (s *Scaler) Move(ctx context.Context, x, y int) error {
	px, py, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.inner.Move(ctx, px, py)
}

// Scroll scales the position only; dx and dy are step counts.
func (s *Scaler) Scroll(ctx context.Context, x, y, dx, dy int) error {
	px, py, err := s.toPhysical(ctx, x, y)
	if err != nil {
		return err
	}
	return s.inner.Scroll(ctx, px, py, dx, dy)
}

func (s *Scaler) Type(ctx context.Context, text string) error {
	return s.inner.Type(ctx, text)
}

func (s *Scaler) Wait(ctx context.Context, ms int) error {
	return s.inner.Wait(ctx, ms)
}

func (s *Scaler) Keypress(ctx context.Context, keys []string) error {
	return s.inner.Keypress(ctx, keys)
}

func (s *Scaler) Drag(ctx context.Context, path []Point) error {
	if len(path) == 0 {
		return nil
	}
	scaled := make([]Point, len(path))
	for i, p := range path {
		px, py, err := s.toPhysical(ctx, p.X, p.Y)
		if err != nil {
			return err
		}
		scaled[i] = Point{X: px, Y: py}
	}
	return s.inner.Drag(ctx, scaled)
}
