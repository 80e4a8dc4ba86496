package media

import "github.com/gabriel-vasile/mimetype"

// Sniff returns the media type detected from the bytes themselves.
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

// detectedAs reports whether data sniffs as one of types or as a subtype of
// one of them.
func detectedAs(data []byte, types ...string) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		for _, t := range types {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

// LooksLikeWordDocument reports whether the bytes can plausibly hold a Word
// document: OOXML is a zip container, legacy .doc is an OLE compound file.
func LooksLikeWordDocument(data []byte) bool {
	return detectedAs(data, MimeDOCX, MimeDOC, "application/x-ole-storage", "application/zip")
}

// WordExtension picks the converter input extension from the container.
func WordExtension(data []byte) string {
	if detectedAs(data, MimeDOC, "application/x-ole-storage") {
		return ".doc"
	}
	return ".docx"
}

// PDFImageType maps bytes to the image type names the PDF writer accepts.
// It returns "" for formats that cannot be embedded directly.
func PDFImageType(data []byte) string {
	m := mimetype.Detect(data)
	switch {
	case m.Is("image/jpeg"):
		return "JPG"
	case m.Is("image/png"):
		return "PNG"
	case m.Is("image/gif"):
		return "GIF"
	}
	return ""
}
