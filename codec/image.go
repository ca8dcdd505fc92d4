package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// imageLayout validates and describes the H,W,C layout a sample must
// have to round-trip through an image codec: uint8 dtype, 2D (grayscale)
// or 3D with 3 (RGB) or 4 (RGBA) channels.
func imageLayout(shape []uint64, dtype DType) (h, w, c int, err error) {
	if dtype != Uint8 {
		return 0, 0, 0, fmt.Errorf("codec: image codecs only support uint8 samples, got dtype %d", dtype)
	}
	switch len(shape) {
	case 2:
		return int(shape[0]), int(shape[1]), 1, nil
	case 3:
		ch := int(shape[2])
		if ch != 3 && ch != 4 {
			return 0, 0, 0, fmt.Errorf("codec: image codecs support 1, 3 or 4 channels, got %d", ch)
		}
		return int(shape[0]), int(shape[1]), ch, nil
	default:
		return 0, 0, 0, fmt.Errorf("codec: image codecs require a 2D or 3D shape, got %d dims", len(shape))
	}
}

func toImage(data []byte, h, w, c int) (image.Image, error) {
	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, data)
		return img, nil
	case 3:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			img.Pix[i*4+0] = data[i*3+0]
			img.Pix[i*4+1] = data[i*3+1]
			img.Pix[i*4+2] = data[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		copy(img.Pix, data)
		return img, nil
	default:
		return nil, fmt.Errorf("codec: unsupported channel count %d", c)
	}
}

func fromImage(img image.Image, c int) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, 0, w*h*c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			switch c {
			case 1:
				gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
				out = append(out, gray.Y)
			case 3:
				out = append(out, byte(r>>8), byte(g>>8), byte(b>>8))
			case 4:
				out = append(out, byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8))
			}
		}
	}
	return out
}

type pngCodec struct{}

func (pngCodec) Encode(data []byte, shape []uint64, dtype DType) ([]byte, error) {
	h, w, c, err := imageLayout(shape, dtype)
	if err != nil {
		return nil, err
	}
	img, err := toImage(data, h, w, c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (pngCodec) Decode(data []byte, shape []uint64, dtype DType) ([]byte, error) {
	_, _, c, err := imageLayout(shape, dtype)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return fromImage(img, c), nil
}

type jpegCodec struct{}

func (jpegCodec) Encode(data []byte, shape []uint64, dtype DType) ([]byte, error) {
	h, w, c, err := imageLayout(shape, dtype)
	if err != nil {
		return nil, err
	}
	if c == 4 {
		return nil, fmt.Errorf("codec: jpeg does not support an alpha channel")
	}
	img, err := toImage(data, h, w, c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jpegCodec) Decode(data []byte, shape []uint64, dtype DType) ([]byte, error) {
	_, _, c, err := imageLayout(shape, dtype)
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return fromImage(img, c), nil
}
