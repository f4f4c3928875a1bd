//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"
)

// Subdevice wraps a V4L2 subdevice node. All operations address a pad;
// formats are exchanged by value and each setter is an atomic
// negotiation: on failure the kernel-side state is unspecified and the
// caller must reconfigure before streaming.
type Subdevice struct {
	path string
	name string
	fd   int

	log *slog.Logger
}

// NewSubdevice creates an unopened handle for the subdevice node at path.
// name is the owning media entity name, used for diagnostics and camera
// naming.
func NewSubdevice(path, name string) *Subdevice {
	return &Subdevice{
		path: path,
		name: name,
		fd:   -1,
		log:  slog.With("module", "v4l2", "subdevice", path),
	}
}

// Open opens the subdevice node.
func (s *Subdevice) Open() error {
	if s.fd >= 0 {
		return nil
	}

	fd, err := open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	s.fd = fd

	return nil
}

// Close closes the subdevice node.
func (s *Subdevice) Close() {
	if s.fd < 0 {
		return
	}
	closeFd(s.fd)
	s.fd = -1
}

// EntityName returns the media entity name of the subdevice.
func (s *Subdevice) EntityName() string {
	return s.name
}

// SetFormat applies format to pad; the driver-adjusted values are written
// back into format.
func (s *Subdevice) SetFormat(pad uint32, format *SubdeviceFormat) error {
	f := v4l2SubdevFormat{
		which: subdevFormatActive,
		pad:   pad,
	}
	f.format.width = format.Width
	f.format.height = format.Height
	f.format.code = format.MbusCode

	if err := ioctl(s.fd, vidiocSubdevSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("failed to set format on %s pad %d: %w", s.path, pad, err)
	}

	format.Width = f.format.width
	format.Height = f.format.height
	format.MbusCode = f.format.code

	return nil
}

// GetFormat retrieves the current format on pad.
func (s *Subdevice) GetFormat(pad uint32) (SubdeviceFormat, error) {
	f := v4l2SubdevFormat{
		which: subdevFormatActive,
		pad:   pad,
	}

	if err := ioctl(s.fd, vidiocSubdevGFmt, unsafe.Pointer(&f)); err != nil {
		return SubdeviceFormat{}, fmt.Errorf("failed to get format of %s pad %d: %w",
			s.path, pad, err)
	}

	return SubdeviceFormat{
		Width:    f.format.width,
		Height:   f.format.height,
		MbusCode: f.format.code,
	}, nil
}

// SetCrop applies the crop rectangle to pad.
func (s *Subdevice) SetCrop(pad uint32, rect *Rectangle) error {
	return s.setSelection(pad, selTargetCrop, rect)
}

// SetCompose applies the compose rectangle to pad.
func (s *Subdevice) SetCompose(pad uint32, rect *Rectangle) error {
	return s.setSelection(pad, selTargetCompose, rect)
}

func (s *Subdevice) setSelection(pad uint32, target uint32, rect *Rectangle) error {
	sel := v4l2SubdevSelection{
		which:  subdevFormatActive,
		pad:    pad,
		target: target,
		r: v4l2Rect{
			left:   rect.X,
			top:    rect.Y,
			width:  rect.Width,
			height: rect.Height,
		},
	}

	if err := ioctl(s.fd, vidiocSubdevSSelection, unsafe.Pointer(&sel)); err != nil {
		return fmt.Errorf("failed to set selection %#x on %s pad %d: %w",
			target, s.path, pad, err)
	}

	rect.X = sel.r.left
	rect.Y = sel.r.top
	rect.Width = sel.r.width
	rect.Height = sel.r.height

	return nil
}

// Formats enumerates all media-bus codes the pad supports, each with its
// ordered frame size ranges.
func (s *Subdevice) Formats(pad uint32) (map[uint32][]SizeRange, error) {
	formats := make(map[uint32][]SizeRange)

	for i := uint32(0); ; i++ {
		code := v4l2SubdevMbusCodeEnum{
			pad:   pad,
			index: i,
			which: subdevFormatActive,
		}

		if err := ioctl(s.fd, vidiocSubdevEnumMbusCode, unsafe.Pointer(&code)); err != nil {
			if errors.Is(err, syscall.EINVAL) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate mbus code %d on %s pad %d: %w",
				i, s.path, pad, err)
		}

		sizes, err := s.enumFrameSizes(pad, code.code)
		if err != nil {
			return nil, err
		}
		formats[code.code] = sizes
	}

	return formats, nil
}

func (s *Subdevice) enumFrameSizes(pad uint32, code uint32) ([]SizeRange, error) {
	var sizes []SizeRange

	for i := uint32(0); ; i++ {
		size := v4l2SubdevFrameSizeEnum{
			index: i,
			pad:   pad,
			code:  code,
			which: subdevFormatActive,
		}

		if err := ioctl(s.fd, vidiocSubdevEnumFrameSize, unsafe.Pointer(&size)); err != nil {
			if errors.Is(err, syscall.EINVAL) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d for code %#x on %s: %w",
				i, code, s.path, err)
		}

		sizes = append(sizes, SizeRange{
			MinWidth:  size.minWidth,
			MinHeight: size.minHeight,
			MaxWidth:  size.maxWidth,
			MaxHeight: size.maxHeight,
		})
	}

	return sizes, nil
}
