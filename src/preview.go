package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"golang.org/x/image/draw"
)

// from http://paulbourke.net/dataformats/asciiart/
var asciiTable = "$@B%8&WM#*oahkbdpqwmZO0QLCJUYXzcvunxrjft/\\|()1{}[]?-_+~<>i!lI;:,\"^`'."

// imageToASCII renders a grayscale image as ASCII art. Intensities are
// windowed between the 2% and 98% points of the histogram, a plain
// min/max scaling makes most MR images look flat.
func imageToASCII(img image.Image, w, h int, invert bool) []byte {
	table := []byte(asciiTable)
	if !invert {
		// darkest value gets the densest glyph
		rev := make([]byte, len(table))
		for i := range table {
			rev[len(table)-1-i] = table[i]
		}
		table = rev
	}
	small := image.NewGray16(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	var histogram [1024]int64
	bins := len(histogram)
	minVal := int64(math.MaxInt64)
	maxVal := int64(0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int64(color.Gray16Model.Convert(small.At(x, y)).(color.Gray16).Y)
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}
	}
	if maxVal == minVal {
		maxVal = minVal + 1
	}
	var total int64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int64(color.Gray16Model.Convert(small.At(x, y)).(color.Gray16).Y)
			idx := int((v - minVal) * int64(bins-1) / (maxVal - minVal))
			histogram[idx]++
			total++
		}
	}
	cumulative := int64(0)
	low, high := minVal, maxVal
	for i := 0; i < bins; i++ {
		cumulative += histogram[i]
		if low == minVal && cumulative >= total*2/100 {
			low = minVal + int64(i)*(maxVal-minVal)/int64(bins)
		}
		if cumulative >= total*98/100 {
			high = minVal + int64(i)*(maxVal-minVal)/int64(bins)
			break
		}
	}
	if high <= low {
		low, high = minVal, maxVal
	}

	buf := new(bytes.Buffer)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := int64(color.Gray16Model.Convert(small.At(x, y)).(color.Gray16).Y)
			pos := int((v - low) * int64(len(table)-1) / (high - low))
			pos = int(math.Min(float64(len(table)-1), math.Max(0, float64(pos))))
			buf.WriteByte(table[pos])
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// previewDICOM prints an ASCII rendering of the first frame of one DICOM
// file to the console. Purely cosmetic, any failure is silent.
func previewDICOM(path string, info string) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return
	}
	pixelDataElement, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return
	}
	invert := false
	if v, err := dataset.FindElementByTag(tag.PhotometricInterpretation); err == nil {
		invert = dicom.MustGetStrings(v.Value)[0] == "MONOCHROME1"
	}
	pixelDataInfo := dicom.MustGetPixelDataInfo(pixelDataElement.Value)
	if len(pixelDataInfo.Frames) == 0 {
		return
	}
	img, err := pixelDataInfo.Frames[0].GetImage()
	if err != nil {
		return
	}
	w := 96
	h := int(math.Round(float64(w) / (80.0 / 30.0)))
	fmt.Printf("%s", string(imageToASCII(img, w, h, invert)))
	fmt.Printf("%s\n", info)
}
