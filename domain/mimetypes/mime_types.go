package mimetypes

import (
	"chat-relay/domain"
	"mime"
	"strings"

	"github.com/samber/lo"
)

type MIME string

const (
	Unknown     MIME = "unknown"
	OctetStream MIME = "application/octet-stream"
	TextPlain   MIME = "text/plain"
	TextHTML    MIME = "text/html"
	TextCSS     MIME = "text/css"

	ApplicationPDF  MIME = "application/pdf"
	ApplicationJSON MIME = "application/json"
	ApplicationXML  MIME = "application/xml"
	ApplicationZIP  MIME = "application/zip"

	ImagePNG  MIME = "image/png"
	ImageJPEG MIME = "image/jpeg"
	ImageGIF  MIME = "image/gif"
	ImageWEBP MIME = "image/webp"

	AudioMPEG MIME = "audio/mpeg"
	AudioWAV  MIME = "audio/wav"
	AudioOGG  MIME = "audio/ogg"

	VideoMP4  MIME = "video/mp4"
	VideoWEBM MIME = "video/webm"
)

var documents = []MIME{
	ApplicationPDF,
	ApplicationJSON,
	ApplicationXML,
	TextPlain,
	TextHTML,
	TextCSS,
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func Matches(detected string, expected MIME) (MIME, bool) {
	mt, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return Unknown, false
	}
	return expected, mt == string(expected)
}

// ToMIME strips parameters such as charset.
func ToMIME(raw string) MIME {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return Unknown
	}
	return MIME(mt)
}

// Classify buckets a detected MIME into the coarse file type stored on attachments.
func Classify(m MIME) domain.FileType {
	switch {
	case strings.HasPrefix(string(m), "image/"):
		return domain.FileImage
	case strings.HasPrefix(string(m), "video/"):
		return domain.FileVideo
	case strings.HasPrefix(string(m), "audio/"):
		return domain.FileAudio
	}
	if lo.Contains(documents, m) {
		return domain.FileDocument
	}
	return domain.FileOther
}
