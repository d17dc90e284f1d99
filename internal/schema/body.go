package schema

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"
)

// BodyContentKind discriminates BodyData.Content.
type BodyContentKind string

const (
	BodyText                BodyContentKind = "Text"
	BodyBinary              BodyContentKind = "Binary"
	BodyTruncated           BodyContentKind = "Truncated"
	BodyDecompressionFailed BodyContentKind = "DecompressionFailed"
	BodyEmpty               BodyContentKind = "Empty"
)

// BodyContent is the closed sum carried by BodyData.
type BodyContent struct {
	Kind BodyContentKind `json:"kind"`

	// Text
	Data string `json:"data,omitempty"`
	// Binary
	Base64 string `json:"base64,omitempty"`
	// Truncated
	Preview string `json:"preview,omitempty"`
	Reason  string `json:"reason,omitempty"`
	// DecompressionFailed
	Error string `json:"error,omitempty"`
}

// BodyData is the safe, derived representation of a captured request or
// response body; raw bytes are never stored directly.
type BodyData struct {
	OriginalEncoding *string     `json:"original_encoding,omitempty"`
	ContentType      *string     `json:"content_type,omitempty"`
	SizeBytes        int         `json:"size_bytes"`
	StoredSizeBytes  int         `json:"stored_size_bytes"`
	Truncated        bool        `json:"truncated"`
	Content          BodyContent `json:"content"`
}

// previewCap bounds how much of an oversize body is retained as a preview.
const previewCap = 1024

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BodyDataFromBytes derives a BodyData from raw wire bytes. It is pure and
// total: there is no error return, and every input — including corrupt
// gzip and non-UTF-8 binary — maps to some valid BodyContent variant.
//
// Classification order: try gzip decode if contentEncoding mentions gzip;
// a decode failure yields DecompressionFailed. Otherwise, on the
// (possibly decoded) bytes: empty -> Empty; longer than maxSize ->
// Truncated with a lossy-UTF8 preview of at most min(maxSize, 1024) bytes;
// valid UTF-8 -> Text; else -> Binary (standard base64).
func BodyDataFromBytes(raw []byte, contentEncoding, contentType string, maxSize int) BodyData {
	bd := BodyData{
		OriginalEncoding: strPtr(contentEncoding),
		ContentType:      strPtr(contentType),
		SizeBytes:        len(raw),
	}

	effective := raw
	if strings.Contains(strings.ToLower(contentEncoding), "gzip") {
		decoded, err := gunzip(raw)
		if err != nil {
			bd.StoredSizeBytes = 0
			bd.Truncated = false
			bd.Content = BodyContent{Kind: BodyDecompressionFailed, Error: err.Error()}
			return bd
		}
		effective = decoded
	}

	if len(effective) == 0 {
		bd.StoredSizeBytes = 0
		bd.Truncated = false
		bd.Content = BodyContent{Kind: BodyEmpty}
		return bd
	}

	if len(effective) > maxSize {
		capAt := maxSize
		if capAt > previewCap {
			capAt = previewCap
		}
		if capAt > len(effective) {
			capAt = len(effective)
		}
		preview := lossyUTF8(effective[:capAt])
		// Replacement characters can make the preview longer than capAt;
		// drop whole runes from the end until it fits again.
		for len(preview) > capAt {
			_, size := utf8.DecodeLastRuneInString(preview)
			preview = preview[:len(preview)-size]
		}
		bd.StoredSizeBytes = len(preview)
		bd.Truncated = true
		bd.Content = BodyContent{Kind: BodyTruncated, Preview: preview, Reason: "exceeds max_body_size"}
		return bd
	}

	if utf8.Valid(effective) {
		bd.StoredSizeBytes = len(effective)
		bd.Truncated = false
		bd.Content = BodyContent{Kind: BodyText, Data: string(effective)}
		return bd
	}

	encoded := base64.StdEncoding.EncodeToString(effective)
	bd.StoredSizeBytes = len(effective)
	bd.Truncated = false
	bd.Content = BodyContent{Kind: BodyBinary, Base64: encoded}
	return bd
}

func gunzip(raw []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lossyUTF8 replaces invalid byte sequences with the Unicode replacement
// character so truncated previews are always valid text.
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
