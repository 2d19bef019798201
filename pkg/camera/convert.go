package camera

import (
	"fmt"
)

// yuyvToI420 converts a packed 4:2:2 frame into the planar 4:2:0 output
// buffer. Chroma is vertically subsampled by taking the even rows, which
// matches the behaviour the capture path was tuned against.
func yuyvToI420(src []byte, width, height int, dst *OutputBuffer) error {
	if width != dst.Width || height != dst.Height {
		return fmt.Errorf("source %dx%d does not match output %dx%d", width, height, dst.Width, dst.Height)
	}
	need := width * height * 2
	if len(src) < need {
		return fmt.Errorf("short packed 4:2:2 frame: got %d bytes, need %d", len(src), need)
	}

	y := dst.YPlane()
	u := dst.UPlane()
	v := dst.VPlane()
	srcStride := width * 2

	for row := 0; row < height; row++ {
		in := src[row*srcStride:]
		out := y[row*dst.RowStrideY:]
		for col := 0; col < width; col++ {
			out[col] = in[col*2]
		}
		if row%2 != 0 {
			continue
		}
		uOut := u[(row/2)*dst.RowStrideUV:]
		vOut := v[(row/2)*dst.RowStrideUV:]
		for col := 0; col < width/2; col++ {
			uOut[col] = in[col*4+1]
			vOut[col] = in[col*4+3]
		}
	}
	return nil
}

// copyI420 copies a tightly packed I420 frame (Y W*H, U and V each
// W/2*H/2) into the stride-padded output buffer.
func copyI420(src []byte, width, height int, dst *OutputBuffer) error {
	if width != dst.Width || height != dst.Height {
		return fmt.Errorf("source %dx%d does not match output %dx%d", width, height, dst.Width, dst.Height)
	}
	need := width * height * 3 / 2
	if len(src) != need {
		return fmt.Errorf("planar 4:2:0 frame is %d bytes, expected %d", len(src), need)
	}

	copyPlane(src[:width*height], width, width, height, dst.YPlane(), dst.RowStrideY)
	uSrc := src[width*height:]
	vSrc := uSrc[(width/2)*(height/2):]
	copyPlane(uSrc[:(width/2)*(height/2)], width/2, width/2, height/2, dst.UPlane(), dst.RowStrideUV)
	copyPlane(vSrc, width/2, width/2, height/2, dst.VPlane(), dst.RowStrideUV)
	return nil
}

func copyPlane(src []byte, srcStride, width, height int, dst []byte, dstStride int) {
	for row := 0; row < height; row++ {
		copy(dst[row*dstStride:row*dstStride+width], src[row*srcStride:])
	}
}
