package camera

// V4L2 fourcc codes the pipeline understands as capture sources.
const (
	FourCCYUYV   uint32 = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	FourCCMJPEG  uint32 = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
	FourCCJPEG   uint32 = 'J' | 'P'<<8 | 'E'<<16 | 'G'<<24
	FourCCYUV420 uint32 = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	FourCCNV12   uint32 = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FourCCNV21   uint32 = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
)
