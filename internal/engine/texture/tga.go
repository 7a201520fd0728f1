package texture

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

// TGA image type constants.
const (
	TGATypeUncompressed = 2  // Uncompressed true-color
	TGATypeRLE          = 10 // RLE compressed true-color
)

const tgaHeaderSize = 18

var errTGATruncated = errors.New("tga: data truncated")

func init() {
	// TGA has no magic number. An empty prefix matches anything, so this
	// must stay the last registered format; it is only reached after the
	// standard and x/image decoders declined the data.
	image.RegisterFormat("tga", "", DecodeTGAReader, DecodeTGAConfig)
}

type tgaHeader struct {
	idLength    int
	colorMap    byte
	imageType   byte
	width       int
	height      int
	bpp         int
	topToBottom bool
}

func parseTGAHeader(h []byte) (tgaHeader, error) {
	hdr := tgaHeader{
		idLength:  int(h[0]),
		colorMap:  h[1],
		imageType: h[2],
		width:     int(h[12]) | int(h[13])<<8,
		height:    int(h[14]) | int(h[15])<<8,
		bpp:       int(h[16]),
		// Bit 5 of the descriptor marks top-to-bottom row order.
		topToBottom: h[17]&0x20 != 0,
	}
	if hdr.colorMap != 0 {
		return hdr, fmt.Errorf("tga: color-mapped images not supported")
	}
	if hdr.imageType != TGATypeUncompressed && hdr.imageType != TGATypeRLE {
		return hdr, fmt.Errorf("tga: unsupported type %d", hdr.imageType)
	}
	if hdr.bpp != 24 && hdr.bpp != 32 {
		return hdr, fmt.Errorf("tga: unsupported bit depth %d", hdr.bpp)
	}
	return hdr, nil
}

// DecodeTGAConfig reads the dimensions of a TGA stream.
func DecodeTGAConfig(r io.Reader) (image.Config, error) {
	var h [tgaHeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return image.Config{}, errTGATruncated
	}
	hdr, err := parseTGAHeader(h[:])
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.NRGBAModel, Width: hdr.width, Height: hdr.height}, nil
}

// DecodeTGAReader decodes a TGA stream.
func DecodeTGAReader(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	return DecodeTGA(data)
}

// DecodeTGA decodes uncompressed (type 2) and RLE (type 10) true-color TGA
// data. Alpha in 32-bit files is straight.
func DecodeTGA(data []byte) (image.Image, error) {
	if len(data) < tgaHeaderSize {
		return nil, errTGATruncated
	}
	hdr, err := parseTGAHeader(data)
	if err != nil {
		return nil, err
	}

	offset := tgaHeaderSize + hdr.idLength
	if offset > len(data) {
		return nil, errTGATruncated
	}
	pixelData := data[offset:]
	img := image.NewNRGBA(image.Rect(0, 0, hdr.width, hdr.height))
	bytesPerPixel := hdr.bpp / 8

	if hdr.imageType == TGATypeUncompressed {
		if len(pixelData) < hdr.width*hdr.height*bytesPerPixel {
			return nil, errTGATruncated
		}
		for i := 0; i < hdr.width*hdr.height; i++ {
			setTGAPixel(img, hdr, i, pixelData[i*bytesPerPixel:])
		}
		return img, nil
	}

	if err := decodeTGARLE(img, hdr, pixelData); err != nil {
		return nil, err
	}
	return img, nil
}

// setTGAPixel stores the BGR(A) pixel p at linear index i in file order.
func setTGAPixel(img *image.NRGBA, hdr tgaHeader, i int, p []byte) {
	x := i % hdr.width
	y := i / hdr.width
	if !hdr.topToBottom {
		y = hdr.height - 1 - y
	}
	a := uint8(255)
	if hdr.bpp == 32 {
		a = p[3]
	}
	o := img.PixOffset(x, y)
	img.Pix[o+0] = p[2]
	img.Pix[o+1] = p[1]
	img.Pix[o+2] = p[0]
	img.Pix[o+3] = a
}

// decodeTGARLE decodes RLE packets. A stream that ends early leaves the
// remaining pixels transparent.
func decodeTGARLE(img *image.NRGBA, hdr tgaHeader, pixelData []byte) error {
	bytesPerPixel := hdr.bpp / 8
	pixelCount := hdr.width * hdr.height
	pixelIdx := 0
	dataIdx := 0

	for pixelIdx < pixelCount && dataIdx < len(pixelData) {
		packet := pixelData[dataIdx]
		dataIdx++
		count := int(packet&0x7F) + 1

		if packet&0x80 != 0 {
			// Run packet: one pixel repeated.
			if dataIdx+bytesPerPixel > len(pixelData) {
				return errTGATruncated
			}
			p := pixelData[dataIdx : dataIdx+bytesPerPixel]
			dataIdx += bytesPerPixel
			for i := 0; i < count && pixelIdx < pixelCount; i++ {
				setTGAPixel(img, hdr, pixelIdx, p)
				pixelIdx++
			}
			continue
		}

		for i := 0; i < count && pixelIdx < pixelCount; i++ {
			if dataIdx+bytesPerPixel > len(pixelData) {
				return errTGATruncated
			}
			setTGAPixel(img, hdr, pixelIdx, pixelData[dataIdx:])
			dataIdx += bytesPerPixel
			pixelIdx++
		}
	}
	return nil
}
