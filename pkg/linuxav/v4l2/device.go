//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"unsafe"
)

// VideoDevice wraps a V4L2 video device node used for capture or output.
// Buffer completion is delivered through the OnBufferReady callback,
// invoked from the device's dequeue goroutine while streaming.
type VideoDevice struct {
	path string
	fd   int

	bufType uint32
	mplane  bool

	pool *BufferPool

	onBufferReady func(*Buffer)

	mu        sync.Mutex
	streaming bool
	wakePipe  [2]int

	log *slog.Logger
}

// NewVideoDevice creates an unopened handle for the device node at path.
func NewVideoDevice(path string) *VideoDevice {
	return &VideoDevice{
		path: path,
		fd:   -1,
		log:  slog.With("module", "v4l2", "device", path),
	}
}

// Open opens the device node and detects the buffer type from the device
// capabilities.
func (d *VideoDevice) Open() error {
	if d.fd >= 0 {
		return nil
	}

	fd, err := open(d.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", d.path, err)
	}

	caps := v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		closeFd(fd)
		return fmt.Errorf("failed to query capabilities of %s: %w", d.path, err)
	}

	deviceCaps := caps.capabilities
	if deviceCaps&capDeviceCaps != 0 {
		deviceCaps = caps.deviceCaps
	}

	switch {
	case deviceCaps&capVideoCaptureMplane != 0:
		d.bufType = bufTypeVideoCaptureMplane
		d.mplane = true
	case deviceCaps&capVideoCapture != 0:
		d.bufType = bufTypeVideoCapture
	case deviceCaps&capVideoOutputMplane != 0:
		d.bufType = bufTypeVideoOutputMplane
		d.mplane = true
	case deviceCaps&capVideoOutput != 0:
		d.bufType = bufTypeVideoOutput
	default:
		closeFd(fd)
		return fmt.Errorf("device %s is not a video capture or output device: %w",
			d.path, syscall.EINVAL)
	}

	if deviceCaps&capStreaming == 0 {
		closeFd(fd)
		return fmt.Errorf("device %s does not support streaming I/O: %w",
			d.path, syscall.EINVAL)
	}

	d.fd = fd
	d.log.Debug("opened video device", "driver", cstr(caps.driver[:]))

	return nil
}

// Close closes the device node.
func (d *VideoDevice) Close() {
	if d.fd < 0 {
		return
	}
	closeFd(d.fd)
	d.fd = -1
}

// Path returns the device node path.
func (d *VideoDevice) Path() string {
	return d.path
}

// OnBufferReady registers the buffer completion callback. The callback
// runs on the dequeue goroutine; it must not call back into StreamOff.
func (d *VideoDevice) OnBufferReady(fn func(*Buffer)) {
	d.onBufferReady = fn
}

// SetFormat applies format atomically; on success the driver-adjusted
// values are written back into format. On failure the kernel-side format
// is unspecified and the caller must reconfigure before streaming.
func (d *VideoDevice) SetFormat(format *DeviceFormat) error {
	if d.mplane {
		return d.setFormatMplane(format)
	}
	return d.setFormatSplane(format)
}

func (d *VideoDevice) setFormatSplane(format *DeviceFormat) error {
	f := v4l2Format{typ: d.bufType}
	pix := f.pix()
	pix.width = format.Width
	pix.height = format.Height
	pix.pixelformat = format.Fourcc

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("failed to set format on %s: %w", d.path, err)
	}

	format.Width = pix.width
	format.Height = pix.height
	format.Fourcc = pix.pixelformat
	format.Planes = 1

	return nil
}

func (d *VideoDevice) setFormatMplane(format *DeviceFormat) error {
	planes := format.Planes
	if planes == 0 {
		planes = 1
	}

	f := v4l2Format{typ: d.bufType}
	pix := f.pixMp()
	pix.width = format.Width
	pix.height = format.Height
	pix.pixelformat = format.Fourcc
	pix.numPlanes = uint8(planes)

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("failed to set format on %s: %w", d.path, err)
	}

	format.Width = pix.width
	format.Height = pix.height
	format.Fourcc = pix.pixelformat
	format.Planes = uint32(pix.numPlanes)

	return nil
}

// GetFormat retrieves the current device format.
func (d *VideoDevice) GetFormat() (DeviceFormat, error) {
	f := v4l2Format{typ: d.bufType}
	if err := ioctl(d.fd, vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return DeviceFormat{}, fmt.Errorf("failed to get format of %s: %w", d.path, err)
	}

	if d.mplane {
		pix := f.pixMp()
		return DeviceFormat{
			Width:  pix.width,
			Height: pix.height,
			Fourcc: pix.pixelformat,
			Planes: uint32(pix.numPlanes),
		}, nil
	}

	pix := f.pix()
	return DeviceFormat{
		Width:  pix.width,
		Height: pix.height,
		Fourcc: pix.pixelformat,
		Planes: 1,
	}, nil
}

// ExportBuffers requests count driver-allocated buffers, maps their
// memory, and installs them into pool.
func (d *VideoDevice) ExportBuffers(count uint32, pool *BufferPool) error {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    d.bufType,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to request %d buffers on %s: %w", count, d.path, err)
	}
	if req.count < count {
		d.freeKernelBuffers()
		return fmt.Errorf("driver granted %d of %d buffers on %s: %w",
			req.count, count, d.path, syscall.ENOMEM)
	}

	pool.CreateBuffers(int(req.count))

	for i := uint32(0); i < req.count; i++ {
		planes, err := d.mapBuffer(i)
		if err != nil {
			pool.Release()
			d.freeKernelBuffers()
			return err
		}
		pool.setPlanes(int(i), planes)
	}

	d.pool = pool
	d.log.Debug("exported buffers", "count", req.count)

	return nil
}

func (d *VideoDevice) mapBuffer(index uint32) ([]Plane, error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    d.bufType,
		memory: memoryMmap,
	}

	var kplanes [8]v4l2Plane
	if d.mplane {
		buf.setPlanes(kplanes[:])
		buf.length = uint32(len(kplanes))
	}

	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("failed to query buffer %d on %s: %w", index, d.path, err)
	}

	var planes []Plane
	if d.mplane {
		for p := uint32(0); p < buf.length; p++ {
			mem, err := mmap(d.fd, kplanes[p].memOffset(), kplanes[p].length)
			if err != nil {
				for i := range planes {
					_ = munmap(planes[i].mem)
				}
				return nil, fmt.Errorf("failed to map buffer %d plane %d on %s: %w",
					index, p, d.path, err)
			}
			planes = append(planes, Plane{mem: mem, length: kplanes[p].length})
		}
	} else {
		mem, err := mmap(d.fd, buf.offset(), buf.length)
		if err != nil {
			return nil, fmt.Errorf("failed to map buffer %d on %s: %w", index, d.path, err)
		}
		planes = append(planes, Plane{mem: mem, length: buf.length})
	}

	return planes, nil
}

// ReleaseBuffers tears down the exported buffers. It fails while any
// buffer is still queued in the kernel.
func (d *VideoDevice) ReleaseBuffers() error {
	if d.pool != nil {
		if err := d.pool.Release(); err != nil {
			return err
		}
		d.pool = nil
	}

	return d.freeKernelBuffers()
}

func (d *VideoDevice) freeKernelBuffers() error {
	req := v4l2RequestBuffers{
		count:  0,
		typ:    d.bufType,
		memory: memoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to release buffers on %s: %w", d.path, err)
	}
	return nil
}

// QueueBuffer hands the buffer to the kernel for capture or output.
func (d *VideoDevice) QueueBuffer(b *Buffer) error {
	buf := v4l2Buffer{
		index:  uint32(b.Index),
		typ:    d.bufType,
		memory: memoryMmap,
	}

	var kplanes [8]v4l2Plane
	if d.mplane {
		slots := b.Planes()
		for i := range slots {
			kplanes[i].length = slots[i].length
		}
		buf.setPlanes(kplanes[:])
		buf.length = uint32(len(slots))
	}

	if err := d.pool.markQueued(b); err != nil {
		return err
	}

	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		d.pool.markDequeued(b.Index)
		return fmt.Errorf("failed to queue buffer %d on %s: %w", b.Index, d.path, err)
	}

	return nil
}

// dequeueBuffer reaps one completed buffer, or returns nil when the
// kernel has none ready.
func (d *VideoDevice) dequeueBuffer() (*Buffer, error) {
	buf := v4l2Buffer{
		typ:    d.bufType,
		memory: memoryMmap,
	}

	var kplanes [8]v4l2Plane
	if d.mplane {
		buf.setPlanes(kplanes[:])
		buf.length = uint32(len(kplanes))
	}

	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue buffer on %s: %w", d.path, err)
	}

	b := d.pool.markDequeued(int(buf.index))
	if b == nil {
		return nil, fmt.Errorf("kernel returned buffer %d that was not queued: %w",
			buf.index, syscall.EINVAL)
	}

	if d.mplane {
		b.BytesUsed = kplanes[0].bytesused
	} else {
		b.BytesUsed = buf.bytesused
	}
	b.Timestamp = uint64(buf.timestamp.Sec)*1000000000 + uint64(buf.timestamp.Usec)*1000
	b.Sequence = buf.sequence
	if buf.flags&bufFlagError != 0 {
		b.Status = BufferError
	} else {
		b.Status = BufferSuccess
	}

	return b, nil
}

// StreamOn starts streaming and the dequeue goroutine.
func (d *VideoDevice) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streaming {
		return nil
	}

	typ := d.bufType
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to start streaming on %s: %w", d.path, err)
	}

	if err := syscall.Pipe2(d.wakePipe[:], syscall.O_CLOEXEC); err != nil {
		typ := d.bufType
		_ = ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
		return fmt.Errorf("failed to create wake pipe for %s: %w", d.path, err)
	}

	d.streaming = true
	go d.watch(d.wakePipe[0])

	return nil
}

// StreamOff stops streaming, terminates the dequeue goroutine and
// transitions in-flight buffers out of the queued state without waiting
// for kernel completions.
func (d *VideoDevice) StreamOff() error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return nil
	}
	d.streaming = false
	syscall.Write(d.wakePipe[1], []byte{0})
	closeFd(d.wakePipe[1])
	d.mu.Unlock()

	typ := d.bufType
	if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("failed to stop streaming on %s: %w", d.path, err)
	}

	if d.pool != nil {
		d.pool.cancelQueued()
	}

	return nil
}

// watch waits for buffer completions on the device fd and dispatches them
// until StreamOff wakes it through the pipe.
func (d *VideoDevice) watch(wakeFd int) {
	defer closeFd(wakeFd)

	for {
		var readFds syscall.FdSet
		fdSet(&readFds, d.fd)
		fdSet(&readFds, wakeFd)
		nfds := d.fd
		if wakeFd > nfds {
			nfds = wakeFd
		}

		n, err := syscall.Select(nfds+1, &readFds, nil, nil, nil)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			d.log.Error("failed to wait for buffers", "error", err)
			return
		}
		if n == 0 {
			continue
		}

		if fdIsSet(&readFds, wakeFd) {
			return
		}

		if !fdIsSet(&readFds, d.fd) {
			continue
		}

		for {
			b, err := d.dequeueBuffer()
			if err != nil {
				d.log.Error("failed to dequeue buffer", "error", err)
				return
			}
			if b == nil {
				break
			}
			if d.onBufferReady != nil {
				d.onBufferReady(b)
			}
		}
	}
}

func fdSet(set *syscall.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *syscall.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
