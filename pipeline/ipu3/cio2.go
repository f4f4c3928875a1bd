//go:build linux

package ipu3

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/internal/logging"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// CIO2Device groups one CSI-2 receiver instance: the image sensor
// subdevice, the CSI-2 receiver subdevice, and the CIO2 capture node
// that writes raw Bayer frames to memory.
type CIO2Device struct {
	output *v4l2.VideoDevice
	csi2   *v4l2.Subdevice
	sensor *v4l2.Subdevice

	// Largest sensor size producible in a CIO2-compatible format, and
	// the media-bus code that produces it.
	mbusCode  uint32
	maxWidth  uint32
	maxHeight uint32
}

// Init verifies that a camera sensor is connected to the CSI-2 receiver
// at index, enables the sensor link, and opens the sensor, receiver and
// capture node. It fails with ErrNoDevice when no sensor is connected or
// the sensor produces no compatible format.
func (c *CIO2Device) Init(mediaDev *media.MediaDevice, index int) error {
	log := logging.GetLogger("ipu3")

	csi2Name := "ipu3-csi2 " + strconv.Itoa(index)
	csi2Entity := mediaDev.EntityByName(csi2Name)
	if csi2Entity == nil || len(csi2Entity.Pads()) == 0 {
		return fmt.Errorf("no CSI-2 receiver %d: %w", index, camera.ErrNoDevice)
	}

	// IPU3 CSI-2 receivers have a single sink pad at index 0.
	sink := csi2Entity.Pad(0)
	links := sink.Links()
	if len(links) == 0 {
		return fmt.Errorf("CSI-2 receiver %d has no connected sensor: %w",
			index, camera.ErrNoDevice)
	}

	link := links[0]
	sensorEntity := link.Source.Entity
	if sensorEntity.Function != media.EntityFunctionCamSensor {
		return fmt.Errorf("entity %q is not a camera sensor: %w",
			sensorEntity.Name, camera.ErrNoDevice)
	}

	if err := link.SetEnabled(true); err != nil {
		return err
	}

	// Make sure the sensor produces at least one image format the
	// CIO2 can consume, and cache the camera maximum size.
	sensor, err := v4l2.NewSubdeviceFromEntity(sensorEntity)
	if err != nil {
		return err
	}
	if err := sensor.Open(); err != nil {
		return err
	}
	c.sensor = sensor

	formats, err := sensor.Formats(0)
	if err != nil {
		return err
	}
	for code, sizes := range formats {
		if _, ok := MediaBusToFormat(code); !ok {
			continue
		}
		for _, size := range sizes {
			if c.maxWidth < size.MaxWidth && c.maxHeight < size.MaxHeight {
				c.maxWidth = size.MaxWidth
				c.maxHeight = size.MaxHeight
				c.mbusCode = code
			}
		}
	}
	if c.maxWidth == 0 {
		log.Info("sensor detected, but no supported image format found: skipping",
			"sensor", sensorEntity.Name)
		return fmt.Errorf("sensor %q has no compatible format: %w",
			sensorEntity.Name, camera.ErrNoDevice)
	}

	csi2, err := v4l2.NewSubdeviceFromEntity(csi2Entity)
	if err != nil {
		return err
	}
	if err := csi2.Open(); err != nil {
		return err
	}
	c.csi2 = csi2

	cio2Entity := mediaDev.EntityByName("ipu3-cio2 " + strconv.Itoa(index))
	if cio2Entity == nil {
		return fmt.Errorf("no CIO2 capture node %d: %w", index, camera.ErrNoDevice)
	}
	output, err := v4l2.NewVideoDeviceFromEntity(cio2Entity)
	if err != nil {
		return err
	}
	if err := output.Open(); err != nil {
		return err
	}
	c.output = output

	return nil
}

// Close releases the device handles opened by Init.
func (c *CIO2Device) Close() {
	if c.sensor != nil {
		c.sensor.Close()
	}
	if c.csi2 != nil {
		c.csi2.Close()
	}
	if c.output != nil {
		c.output.Close()
	}
}

// Configure negotiates the sensor mode for cfg, applies it to the sensor
// and CSI-2 receiver, and programs the CIO2 capture node format. The
// applied capture format is returned for propagation to the ImgU.
func (c *CIO2Device) Configure(cfg camera.StreamConfiguration) (v4l2.DeviceFormat, error) {
	formats, err := c.sensor.Formats(0)
	if err != nil {
		return v4l2.DeviceFormat{}, err
	}

	sensorFormat := selectSensorFormat(formats, cfg)
	if sensorFormat.MbusCode == 0 {
		return v4l2.DeviceFormat{}, fmt.Errorf(
			"no sensor format can produce %dx%d: %w",
			cfg.Width, cfg.Height, camera.ErrInvalidArgument)
	}

	// Apply the selected format to the sensor, the CSI-2 receiver and
	// the CIO2 output device.
	if err := c.sensor.SetFormat(0, &sensorFormat); err != nil {
		return v4l2.DeviceFormat{}, err
	}
	if err := c.csi2.SetFormat(0, &sensorFormat); err != nil {
		return v4l2.DeviceFormat{}, err
	}

	fourcc, _ := MediaBusToFormat(sensorFormat.MbusCode)
	outputFormat := v4l2.DeviceFormat{
		Width:  sensorFormat.Width,
		Height: sensorFormat.Height,
		Fourcc: fourcc,
		Planes: 1,
	}
	if err := c.output.SetFormat(&outputFormat); err != nil {
		return v4l2.DeviceFormat{}, err
	}

	return outputFormat, nil
}

// selectSensorFormat picks the sensor mode for the requested size: only
// CIO2-compatible codes, only modes at least as large as the request
// since the IPU3 cannot up-scale, minimizing the excess pixel count.
// Ties keep the first candidate in ascending code order, which makes the
// choice deterministic for a fixed sensor.
func selectSensorFormat(formats map[uint32][]v4l2.SizeRange,
	cfg camera.StreamConfiguration) v4l2.SubdeviceFormat {
	imageSize := cfg.Width * cfg.Height
	best := ^uint32(0)
	var selected v4l2.SubdeviceFormat

	codes := make([]uint32, 0, len(formats))
	for code := range formats {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	for _, code := range codes {
		if _, ok := MediaBusToFormat(code); !ok {
			continue
		}

		for _, size := range formats[code] {
			if size.MaxWidth < cfg.Width || size.MaxHeight < cfg.Height {
				continue
			}

			diff := size.MaxWidth*size.MaxHeight - imageSize
			if diff >= best {
				continue
			}

			best = diff
			selected = v4l2.SubdeviceFormat{
				Width:    size.MaxWidth,
				Height:   size.MaxHeight,
				MbusCode: code,
			}
		}
	}

	return selected
}

// MediaBusToFormat maps the 10-bit Bayer media-bus codes the CIO2
// consumes to the corresponding IPU3 packed pixel formats.
func MediaBusToFormat(code uint32) (uint32, bool) {
	switch code {
	case v4l2.MbusFmtSBGGR10:
		return v4l2.PixFmtIPU3SBGGR10, true
	case v4l2.MbusFmtSGBRG10:
		return v4l2.PixFmtIPU3SGBRG10, true
	case v4l2.MbusFmtSGRBG10:
		return v4l2.PixFmtIPU3SGRBG10, true
	case v4l2.MbusFmtSRGGB10:
		return v4l2.PixFmtIPU3SRGGB10, true
	default:
		return 0, false
	}
}

// FormatToMediaBus is the inverse of MediaBusToFormat.
func FormatToMediaBus(fourcc uint32) (uint32, bool) {
	switch fourcc {
	case v4l2.PixFmtIPU3SBGGR10:
		return v4l2.MbusFmtSBGGR10, true
	case v4l2.PixFmtIPU3SGBRG10:
		return v4l2.MbusFmtSGBRG10, true
	case v4l2.PixFmtIPU3SGRBG10:
		return v4l2.MbusFmtSGRBG10, true
	case v4l2.PixFmtIPU3SRGGB10:
		return v4l2.MbusFmtSRGGB10, true
	default:
		return 0, false
	}
}
