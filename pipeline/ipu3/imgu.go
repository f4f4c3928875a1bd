//go:build linux

package ipu3

import (
	"fmt"
	"strconv"

	"github.com/XECDesign/libcamera/camera"
	"github.com/XECDesign/libcamera/pkg/linuxav/media"
	"github.com/XECDesign/libcamera/pkg/linuxav/v4l2"
)

// ImgU subdevice pads.
const (
	padInput  = 0
	padOutput = 2
	padVF     = 3
	padStat   = 4
)

// ImgUOutput groups the data specific to one ImgU output channel.
type ImgUOutput struct {
	dev  *v4l2.VideoDevice
	pad  uint32
	name string
}

// ImgUDevice groups one ImgU ISP instance: the processing subdevice, its
// input node, and the output, viewfinder and statistics channels.
type ImgUDevice struct {
	index int
	name  string

	imgu  *v4l2.Subdevice
	input *v4l2.VideoDevice

	output     ImgUOutput
	viewfinder ImgUOutput
	stat       ImgUOutput

	// The parameters node exists in the media graph for 3A tuning but
	// is not driven yet.
}

// Init opens the subdevice and video nodes of the ImgU instance at
// index. The entities were verified present during match.
func (i *ImgUDevice) Init(mediaDev *media.MediaDevice, index int) error {
	i.index = index
	i.name = "ipu3-imgu " + strconv.Itoa(index)

	imguEntity := mediaDev.EntityByName(i.name)
	if imguEntity == nil {
		return fmt.Errorf("no ImgU instance %d: %w", index, camera.ErrNoDevice)
	}
	imgu, err := v4l2.NewSubdeviceFromEntity(imguEntity)
	if err != nil {
		return err
	}
	if err := imgu.Open(); err != nil {
		return err
	}
	i.imgu = imgu

	input, err := i.openVideo(mediaDev, i.name+" input")
	if err != nil {
		return err
	}
	i.input = input

	out, err := i.openVideo(mediaDev, i.name+" output")
	if err != nil {
		return err
	}
	i.output = ImgUOutput{dev: out, pad: padOutput, name: "output"}

	vf, err := i.openVideo(mediaDev, i.name+" viewfinder")
	if err != nil {
		return err
	}
	i.viewfinder = ImgUOutput{dev: vf, pad: padVF, name: "viewfinder"}

	stat, err := i.openVideo(mediaDev, i.name+" 3a stat")
	if err != nil {
		return err
	}
	i.stat = ImgUOutput{dev: stat, pad: padStat, name: "stat"}

	return nil
}

func (i *ImgUDevice) openVideo(mediaDev *media.MediaDevice, name string) (*v4l2.VideoDevice, error) {
	entity := mediaDev.EntityByName(name)
	if entity == nil {
		return nil, fmt.Errorf("no entity %q: %w", name, camera.ErrNoDevice)
	}
	dev, err := v4l2.NewVideoDeviceFromEntity(entity)
	if err != nil {
		return nil, err
	}
	if err := dev.Open(); err != nil {
		return nil, err
	}
	return dev, nil
}

// ConfigureInput programs the ImgU input for the CIO2 output format and
// sets the processing size on the input pad.
func (i *ImgUDevice) ConfigureInput(cfg camera.StreamConfiguration,
	inputFormat *v4l2.DeviceFormat) error {
	if err := i.input.SetFormat(inputFormat); err != nil {
		return err
	}

	// The driver uses the input video device sizes for the crop and
	// compose rectangles and the subdevice sizes for the GDC output.
	rect := v4l2.Rectangle{
		Width:  inputFormat.Width,
		Height: inputFormat.Height,
	}
	if err := i.imgu.SetCrop(padInput, &rect); err != nil {
		return err
	}
	if err := i.imgu.SetCompose(padInput, &rect); err != nil {
		return err
	}

	imguFormat := v4l2.SubdeviceFormat{
		Width:    cfg.Width,
		Height:   cfg.Height,
		MbusCode: v4l2.MbusFmtFixed,
	}

	return i.imgu.SetFormat(padInput, &imguFormat)
}

// ConfigureOutput programs one ImgU output channel for cfg. The stat
// channel carries metadata and needs no video node format.
func (i *ImgUDevice) ConfigureOutput(output *ImgUOutput,
	cfg camera.StreamConfiguration) error {
	imguFormat := v4l2.SubdeviceFormat{
		Width:    cfg.Width,
		Height:   cfg.Height,
		MbusCode: v4l2.MbusFmtFixed,
	}

	if err := i.imgu.SetFormat(output.pad, &imguFormat); err != nil {
		return err
	}

	if output == &i.stat {
		return nil
	}

	outputFormat := v4l2.DeviceFormat{
		Width:  cfg.Width,
		Height: cfg.Height,
		Fourcc: v4l2.PixFmtNV12,
		Planes: 2,
	}

	return output.dev.SetFormat(&outputFormat)
}
