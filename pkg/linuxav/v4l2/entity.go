//go:build linux

package v4l2

import (
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
)

// NewVideoDeviceFromEntity creates a video device handle for the device
// node backing a media entity.
func NewVideoDeviceFromEntity(entity *media.Entity) (*VideoDevice, error) {
	node, err := entity.DeviceNode()
	if err != nil {
		return nil, err
	}
	return NewVideoDevice(node), nil
}

// NewSubdeviceFromEntity creates a subdevice handle for the device node
// backing a media entity.
func NewSubdeviceFromEntity(entity *media.Entity) (*Subdevice, error) {
	node, err := entity.DeviceNode()
	if err != nil {
		return nil, err
	}
	return NewSubdevice(node, entity.Name), nil
}
