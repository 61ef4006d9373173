package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/tbscan/internal/model"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestSniff(t *testing.T) {
	img := solid(8, 8, color.RGBA{10, 20, 30, 255})

	mediaType, err := Sniff(encodePNG(t, img))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mediaType)

	mediaType, err = Sniff(encodeJPEG(t, img))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mediaType)
}

func TestSniffRejectsNonImages(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	inputs := map[string][]byte{
		"random": random,
		"text":   []byte("hello, this is not an x-ray"),
		"gif":    []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"),
		"pdf":    []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"),
		"empty":  nil,
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Sniff(data)
			assert.ErrorIs(t, err, ErrUnsupportedType)
		})
	}
}

func TestDecodeCorrupt(t *testing.T) {
	valid := encodePNG(t, solid(16, 16, color.White))
	truncated := valid[:len(valid)/2]

	_, err := Sniff(truncated)
	require.NoError(t, err, "header survives truncation")

	_, _, err = Decode(truncated)
	assert.ErrorIs(t, err, ErrCorruptImage)

	jpegHeader := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x00}, 64)...)
	_, _, err = Decode(jpegHeader)
	assert.ErrorIs(t, err, ErrCorruptImage)
}

func TestDecodeRejectsHugeCanvas(t *testing.T) {
	data := encodePNG(t, solid(1, 1, color.Black))

	// rewrite the IHDR dimensions and its checksum
	binary.BigEndian.PutUint32(data[16:20], 20000)
	binary.BigEndian.PutUint32(data[20:24], 20000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	_, _, err := Decode(data)
	require.ErrorIs(t, err, ErrCorruptImage)
	assert.Contains(t, err.Error(), "pixel limit")
}

func TestPreprocessNHWC(t *testing.T) {
	img := solid(40, 30, color.RGBA{255, 128, 0, 255})

	data := Preprocess(img, 4, model.LayoutNHWC)
	require.Len(t, data, 4*4*3)

	for i := 0; i < 16; i++ {
		assert.InDelta(t, 1.0, data[3*i], 1e-6)
		assert.InDelta(t, 128.0/255, data[3*i+1], 1e-6)
		assert.InDelta(t, 0.0, data[3*i+2], 1e-6)
	}
}

func TestPreprocessNCHW(t *testing.T) {
	img := solid(10, 10, color.RGBA{255, 128, 0, 255})

	data := Preprocess(img, 2, model.LayoutNCHW)
	require.Len(t, data, 2*2*3)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, 1.0, data[i], 1e-6)
		assert.InDelta(t, 128.0/255, data[4+i], 1e-6)
		assert.InDelta(t, 0.0, data[8+i], 1e-6)
	}
}

func TestPreprocessSamplesNearestPixel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.Black)
	img.Set(1, 0, color.White)

	data := Preprocess(img, 4, model.LayoutNCHW)
	require.Len(t, data, 4*4*3)

	for y := 0; y < 4; y++ {
		row := data[4*y : 4*y+4]
		assert.Equal(t, []float32{0, 0, 1, 1}, row, "row %d must not blend neighbours", y)
	}
}

func TestPreprocessGrayscaleExpandsChannels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 51
	}

	data := Preprocess(img, model.DefaultImageSize, model.LayoutNHWC)
	require.Len(t, data, model.DefaultImageSize*model.DefaultImageSize*3)
	for _, v := range data[:30] {
		assert.InDelta(t, 0.2, v, 1e-6)
	}
}

func TestPreprocessRange(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	rand.New(rand.NewSource(7)).Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}

	for _, v := range Preprocess(img, 32, model.LayoutNHWC) {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestPrepare(t *testing.T) {
	data := encodeJPEG(t, solid(300, 300, color.Gray{Y: 200}))

	tensor, mediaType, err := Prepare(bytes.NewReader(data), 1<<20, 224, model.LayoutNHWC)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mediaType)
	assert.Len(t, tensor, 224*224*3)
}

func TestPrepareErrors(t *testing.T) {
	pngData := encodePNG(t, solid(8, 8, color.White))

	_, _, err := Prepare(bytes.NewReader(pngData), int64(len(pngData)-1), 224, model.LayoutNHWC)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, _, err = Prepare(strings.NewReader("plain text body"), 1<<20, 224, model.LayoutNHWC)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, _, err = Prepare(bytes.NewReader(pngData[:40]), 1<<20, 224, model.LayoutNHWC)
	assert.ErrorIs(t, err, ErrCorruptImage)
}
