package services

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"
)

const (
	maxMessageLen  = 2000
	maxImageBytes  = 4 * 1024 * 1024
	minImageSide   = 200
	maxImageSide   = 4096
	maxAspectRatio = 3.0
)

var deviceHashRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,64}$`)

// Injection probes seen in the wild; anything matching is rejected
// before it reaches storage or the completion call.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)select.*from`),
	regexp.MustCompile(`(?i)insert.*into`),
	regexp.MustCompile(`(?i)update.*set`),
	regexp.MustCompile(`(?i)delete.*from`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)system\(`),
}

// ValidateDeviceHash checks the opaque device identifier: 8-64
// alphanumeric, underscore or hyphen characters.
func ValidateDeviceHash(hash string) error {
	if !deviceHashRe.MatchString(hash) {
		return ErrInvalidDevice
	}
	return nil
}

// ValidateMessage bounds and scans a text turn.
func ValidateMessage(message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrEmptyMessage
	}
	if len(message) > maxMessageLen {
		return ErrMessageTooLong
	}
	for _, p := range suspiciousPatterns {
		if p.MatchString(message) {
			return ErrSuspiciousInput
		}
	}
	return nil
}

// DecodeImage validates a base64 image payload (optionally a data URL)
// and returns the raw bytes. JPEG or PNG, at most 4 MB, 200-4096 px per
// side, aspect ratio between 1:3 and 3:1.
func DecodeImage(imageBase64 string) ([]byte, error) {
	if strings.HasPrefix(imageBase64, "data:image") {
		if i := strings.IndexByte(imageBase64, ','); i >= 0 {
			imageBase64 = imageBase64[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return nil, ErrImageCorrupt
	}
	if len(raw) > maxImageBytes {
		return nil, ErrImageTooLarge
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, ErrImageBadFormat
	}
	if format != "jpeg" && format != "png" {
		return nil, ErrImageBadFormat
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return nil, ErrImageDimensions
	}
	if cfg.Width < minImageSide || cfg.Height < minImageSide {
		return nil, ErrImageTooSmall
	}
	ratio := float64(cfg.Width) / float64(cfg.Height)
	if ratio > maxAspectRatio || ratio < 1/maxAspectRatio {
		return nil, ErrImageAspectRatio
	}
	return raw, nil
}
