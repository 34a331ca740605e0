// Package views splits composite frames into per-camera images.
package views

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/hpungsan/robolabel/internal/video"
)

// Camera names in left-to-right order of the composite layout.
const (
	Top   = "top"
	Front = "front"
	Left  = "left"
	Right = "right"
)

// Cameras is the fixed band order of a composite frame.
var Cameras = []string{Top, Front, Left, Right}

// View is one camera's image taken out of a composite frame.
type View struct {
	Camera string
	Image  *image.RGBA
}

// Split cuts a frame into numCams vertical bands of width W/numCams, left to
// right. Leftover columns past numCams*(W/numCams) are dropped. The front
// band is rotated 90 degrees clockwise and every band is converted from BGR
// to RGB.
func Split(f video.Frame, numCams int) ([]View, error) {
	if numCams <= 0 {
		return nil, fmt.Errorf("views: numCams must be positive, got %d", numCams)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Stride()*f.Height {
		return nil, fmt.Errorf("views: malformed frame %dx%d with %d bytes", f.Width, f.Height, len(f.Pix))
	}
	band := f.Width / numCams
	if band == 0 {
		return nil, fmt.Errorf("views: frame width %d is narrower than %d cameras", f.Width, numCams)
	}

	out := make([]View, numCams)
	for i := 0; i < numCams; i++ {
		name := cameraName(i)
		if name == Front {
			out[i] = View{Camera: name, Image: cropRotateCW(f, i*band, band)}
		} else {
			out[i] = View{Camera: name, Image: crop(f, i*band, band)}
		}
	}
	return out, nil
}

func cameraName(i int) string {
	if i < len(Cameras) {
		return Cameras[i]
	}
	return fmt.Sprintf("cam%d", i)
}

// crop copies columns [x0, x0+w) into an RGBA image.
func crop(f video.Frame, x0, w int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, f.Height))
	stride := f.Stride()
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*stride+x0*3:]
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			s := src[x*3:]
			d := row[x*4:]
			d[0] = s[2]
			d[1] = s[1]
			d[2] = s[0]
			d[3] = 0xff
		}
	}
	return dst
}

// cropRotateCW copies columns [x0, x0+w) rotated 90 degrees clockwise, so the
// result is f.Height wide and w tall. Source pixel (x, y) lands at
// (H-1-y, x).
func cropRotateCW(f video.Frame, x0, w int) *image.RGBA {
	h := f.Height
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	stride := f.Stride()
	for y := 0; y < h; y++ {
		src := f.Pix[y*stride+x0*3:]
		dx := h - 1 - y
		for x := 0; x < w; x++ {
			s := src[x*3:]
			d := dst.Pix[x*dst.Stride+dx*4:]
			d[0] = s[2]
			d[1] = s[1]
			d[2] = s[0]
			d[3] = 0xff
		}
	}
	return dst
}

// EncodeJPEG encodes a view at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("views: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
