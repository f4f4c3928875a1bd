package camera

import (
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// StreamRole hints at what the application intends to do with a stream;
// pipeline handlers use it to pick sensible default configurations.
type StreamRole int

// Stream roles.
const (
	RoleStillCapture StreamRole = iota
	RoleVideoRecording
	RoleViewfinder
)

// StreamConfiguration holds the mutable parameters of a stream.
type StreamConfiguration struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32
	BufferCount uint32
}

// Stream is a logical image-data channel exposed to applications. Its
// configuration is negotiated through Camera.Configure; its buffer pool
// is installed by Camera.AllocateBuffers.
type Stream struct {
	config StreamConfiguration
	pool   v4l2.BufferPool
}

// Configuration returns the stream's active configuration.
func (s *Stream) Configuration() StreamConfiguration {
	return s.config
}

// Pool returns the stream's buffer pool.
func (s *Stream) Pool() *v4l2.BufferPool {
	return &s.pool
}

// CreateBuffer hands out a buffer handle for the pool slot at index.
func (s *Stream) CreateBuffer(index int) *v4l2.Buffer {
	return s.pool.CreateBuffer(index)
}
