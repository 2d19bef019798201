package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Decoder turns one compressed frame into tightly packed planar YUV420
// of exactly width*height*3/2 bytes. The session size-checks the result
// and fails the owning request on a mismatch, so implementations do not
// need to defend the output contract themselves.
type Decoder interface {
	Decode(src []byte, width, height int) ([]byte, error)
}

// JPEGDecoder is the default MJPEG collaborator. Motion-JPEG frames are
// independently coded JPEG images, so a plain still decoder suffices.
type JPEGDecoder struct{}

func (JPEGDecoder) Decode(src []byte, width, height int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("jpeg frame is %dx%d, expected %dx%d", b.Dx(), b.Dy(), width, height)
	}

	out := make([]byte, width*height*3/2)
	yDst := out[:width*height]
	uDst := out[width*height : width*height+(width/2)*(height/2)]
	vDst := out[width*height+(width/2)*(height/2):]

	switch pix := img.(type) {
	case *image.YCbCr:
		for row := 0; row < height; row++ {
			for col := 0; col < width; col++ {
				yDst[row*width+col] = pix.Y[pix.YOffset(b.Min.X+col, b.Min.Y+row)]
			}
		}
		for row := 0; row < height/2; row++ {
			for col := 0; col < width/2; col++ {
				off := pix.COffset(b.Min.X+col*2, b.Min.Y+row*2)
				uDst[row*(width/2)+col] = pix.Cb[off]
				vDst[row*(width/2)+col] = pix.Cr[off]
			}
		}
	default:
		// Grayscale and other exotic JPEGs go through the generic path.
		for row := 0; row < height; row++ {
			for col := 0; col < width; col++ {
				r, g, bl, _ := img.At(b.Min.X+col, b.Min.Y+row).RGBA()
				yDst[row*width+col] = rgbToY(r>>8, g>>8, bl>>8)
			}
		}
		for row := 0; row < height/2; row++ {
			for col := 0; col < width/2; col++ {
				r, g, bl, _ := img.At(b.Min.X+col*2, b.Min.Y+row*2).RGBA()
				u, v := rgbToUV(r>>8, g>>8, bl>>8)
				uDst[row*(width/2)+col] = u
				vDst[row*(width/2)+col] = v
			}
		}
	}
	return out, nil
}

// BT.601 full-range coefficients, matching image/color.RGBToYCbCr.
func rgbToY(r, g, b uint32) byte {
	return byte((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
}

func rgbToUV(r, g, b uint32) (byte, byte) {
	ri, gi, bi := int32(r), int32(g), int32(b)
	u := (-11056*ri - 21712*gi + 32768*bi + 1<<15 + 128<<16) >> 16
	v := (32768*ri - 27440*gi - 5328*bi + 1<<15 + 128<<16) >> 16
	return clamp8(u), clamp8(v)
}

func clamp8(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
