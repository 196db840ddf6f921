package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp decoding

	_ "image/png" // register png decoding

	"github.com/talespin-gg/talespin-server/internal/v1/config"
	"github.com/talespin-gg/talespin-server/internal/v1/logging"
)

const (
	cardJPEGQuality              = 90
	normalizationPipelineVersion = "v1"
)

type cacheImageFormat string

const (
	formatJPEG cacheImageFormat = "jpeg"
)

func (f cacheImageFormat) fileExtension() string { return "jpg" }
func (f cacheImageFormat) mimeType() string      { return "image/jpeg" }

type normalization struct {
	ratioWidth    int
	ratioHeight   int
	longSide      int
	format        cacheImageFormat
	cardsCacheDir string
}

func newNormalization(ctx context.Context, cfg *config.Config) (normalization, error) {
	w, h, err := config.ParseAspectRatio(cfg.CardAspectRatio)
	if err != nil {
		return normalization{}, err
	}

	// AVIF encoding has no pure-Go implementation; serve JPEG instead.
	if cfg.CardCacheFormat == "avif" {
		logging.Warn(ctx, "AVIF cache format is not supported, falling back to JPEG")
	}

	cardsCacheDir := filepath.Join(cfg.CacheDir, cacheSubdirCards)
	if err := os.MkdirAll(cardsCacheDir, 0o755); err != nil {
		return normalization{}, fmt.Errorf("failed to create cards cache directory %s: %w", cardsCacheDir, err)
	}

	return normalization{
		ratioWidth:    w,
		ratioHeight:   h,
		longSide:      cfg.CardLongSide,
		format:        formatJPEG,
		cardsCacheDir: cardsCacheDir,
	}, nil
}

// outputDimensions returns the normalized card size: the long side of the
// aspect ratio is pinned to longSide and the short side derived from it.
func (n normalization) outputDimensions() (int, int) {
	if n.ratioWidth <= n.ratioHeight {
		height := max(n.longSide, 1)
		width := max(int(float64(height)*float64(n.ratioWidth)/float64(n.ratioHeight)+0.5), 1)
		return width, height
	}
	width := max(n.longSide, 1)
	height := max(int(float64(width)*float64(n.ratioHeight)/float64(n.ratioWidth)+0.5), 1)
	return width, height
}

// centerCropRect computes the largest centered sub-rectangle of the source
// matching the target aspect ratio.
func centerCropRect(srcWidth, srcHeight, ratioWidth, ratioHeight int) image.Rectangle {
	sw, sh := int64(srcWidth), int64(srcHeight)
	rw, rh := int64(ratioWidth), int64(ratioHeight)

	if sw*rh > sh*rw {
		cropWidth := max(int(sh*rw/rh), 1)
		offsetX := (srcWidth - cropWidth) / 2
		if offsetX < 0 {
			offsetX = 0
		}
		return image.Rect(offsetX, 0, offsetX+cropWidth, srcHeight)
	}

	cropHeight := max(int(sw*rh/rw), 1)
	offsetY := (srcHeight - cropHeight) / 2
	if offsetY < 0 {
		offsetY = 0
	}
	return image.Rect(0, offsetY, srcWidth, offsetY+cropHeight)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// normalizeSourceToCache derives the card ID for a source image and, if the
// cache entry is missing, decodes, center-crops, resizes, and encodes it.
//
// The card ID is the hash of a transform descriptor covering the source bytes
// and every normalization parameter, so identical sources with identical
// settings always map to the same ID across restarts.
func normalizeSourceToCache(source string, n normalization) (cardID string, cachePath string, err error) {
	raw, err := os.ReadFile(source)
	if err != nil {
		return "", "", fmt.Errorf("failed to read source image %s: %w", source, err)
	}

	sourceHash := hashHex(raw)
	outputWidth, outputHeight := n.outputDimensions()

	transformDescriptor := fmt.Sprintf(
		"source=%s|ratio=%d:%d|long_side=%d|output=%dx%d|fmt=%s|quality=%d|pipeline=%s",
		sourceHash, n.ratioWidth, n.ratioHeight, n.longSide,
		outputWidth, outputHeight, n.format, cardJPEGQuality,
		normalizationPipelineVersion)

	cardID = hashHex([]byte(transformDescriptor))
	cachePath = filepath.Join(n.cardsCacheDir, cardID+"."+n.format.fileExtension())

	if _, statErr := os.Stat(cachePath); statErr == nil {
		return cardID, cachePath, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode image %s: %w", source, err)
	}

	bounds := src.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return "", "", fmt.Errorf("image %s has invalid dimensions %dx%d", source, bounds.Dx(), bounds.Dy())
	}

	crop := centerCropRect(bounds.Dx(), bounds.Dy(), n.ratioWidth, n.ratioHeight).Add(bounds.Min)

	resized := image.NewRGBA(image.Rect(0, 0, outputWidth, outputHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: cardJPEGQuality}); err != nil {
		return "", "", fmt.Errorf("failed to encode cached image %s: %w", cachePath, err)
	}

	if err := os.WriteFile(cachePath, buf.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write cached image %s: %w", cachePath, err)
	}

	return cardID, cachePath, nil
}
