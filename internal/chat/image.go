package chat

import (
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxImageSize bounds the decoded size of a relayed image.
const DefaultMaxImageSize = 10 << 20

// decodedImage is the result of validating an inbound image body.
type decodedImage struct {
	data     []byte
	mimeType string
}

// decodeImageData accepts either bare base64 or a data URI such as
// "data:image/png;base64,iVBOR...".
func decodeImageData(s string, maxSize int) (decodedImage, error) {
	var img decodedImage
	if s == "" {
		return img, fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}

	body := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok {
			return img, fmt.Errorf("%w: data URI without payload", ErrInvalidImage)
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return img, fmt.Errorf("%w: data URI is not base64 encoded", ErrInvalidImage)
		}
		if mt, _, err := mime.ParseMediaType(strings.TrimSuffix(meta, ";base64")); err == nil {
			img.mimeType = mt
		}
		body = rest
	}

	if maxSize > 0 && base64.StdEncoding.DecodedLen(len(body)) > maxSize+2 {
		return img, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, maxSize)
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return img, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return img, fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}
	if maxSize > 0 && len(data) > maxSize {
		return img, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, maxSize)
	}

	img.data = data
	if img.mimeType == "" {
		img.mimeType = mimetype.Detect(data).String()
	}
	return img, nil
}
