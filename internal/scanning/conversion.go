package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/smartreceipt/internal/parsing"
)

const (
	defaultMaxDimension = 2000
	jpegQuality         = 85
)

// ImageOptions controls how uploads are prepared before OCR.
type ImageOptions struct {
	// Enhance converts to grayscale and boosts contrast and sharpness.
	Enhance bool
	// MaxBytes is the OCR service's upload limit. Zero means no limit.
	MaxBytes int
	// MaxDimension bounds the longest side when an image must shrink.
	MaxDimension int
}

// PrepareImage returns bytes the OCR services accept (PNG or JPEG) and their
// MIME type. JPEG and PNG uploads that need no changes pass through untouched.
// Undecodable input fails with parsing.ErrInvalidInput.
func PrepareImage(data []byte, contentType string, opts ImageOptions) ([]byte, string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	fits := opts.MaxBytes <= 0 || len(data) <= opts.MaxBytes
	if !opts.Enhance && fits && !isHEICFormat(data) && (mimeType == "image/png" || mimeType == "image/jpeg") {
		return data, mimeType, nil
	}

	img, err := decodeImage(data, mimeType)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", parsing.ErrInvalidInput, err)
	}
	if opts.Enhance {
		img = Enhance(img)
	}
	return encodeWithin(img, opts)
}

// Enhance applies the grayscale, contrast and sharpen steps that help OCR on
// phone photos of thermal paper.
func Enhance(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 30)
	return imaging.Sharpen(out, 1.5)
}

// encodeWithin encodes as PNG, falling back to JPEG and then to a resized
// JPEG until the result fits opts.MaxBytes.
func encodeWithin(img image.Image, opts ImageOptions) ([]byte, string, error) {
	encoded, err := encode(img, imaging.PNG)
	if err != nil {
		return nil, "", err
	}
	if opts.MaxBytes <= 0 || len(encoded) <= opts.MaxBytes {
		return encoded, "image/png", nil
	}

	encoded, err = encode(img, imaging.JPEG)
	if err != nil {
		return nil, "", err
	}
	if len(encoded) <= opts.MaxBytes {
		return encoded, "image/jpeg", nil
	}

	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	encoded, err = encode(imaging.Fit(img, maxDim, maxDim, imaging.Lanczos), imaging.JPEG)
	if err != nil {
		return nil, "", err
	}
	if len(encoded) > opts.MaxBytes {
		return nil, "", fmt.Errorf("%w: image is %d bytes after resizing, limit is %d", parsing.ErrInvalidInput, len(encoded), opts.MaxBytes)
	}
	return encoded, "image/jpeg", nil
}

func encode(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if mimeType == "application/pdf" {
		return pdfToImage(data)
	}

	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Render the first page (most receipts are single page)
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// imageFormat turns a MIME type into the short format name genai expects.
func imageFormat(mimeType string) string {
	return strings.TrimPrefix(mimeType, "image/")
}
