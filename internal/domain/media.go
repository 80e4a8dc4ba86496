package domain

// PayloadKind tags how the transport handed over media bytes.
type PayloadKind int

const (
	PayloadBinary PayloadKind = iota
	PayloadBase64             // plain base64 or a data: URL
)

// Payload is the raw media value returned by a transport. It is resolved to
// bytes exactly once by media.DecodePayload.
type Payload struct {
	Kind    PayloadKind
	Data    []byte
	Encoded string
}

func BinaryPayload(b []byte) Payload { return Payload{Kind: PayloadBinary, Data: b} }

func Base64Payload(s string) Payload { return Payload{Kind: PayloadBase64, Encoded: s} }

// Encoding names the representation held by a DecodedImage.
type Encoding string

const (
	EncodingJPEG Encoding = "jpeg"
	EncodingPNG  Encoding = "png"
	EncodingRaw  Encoding = "raw" // normalization failed; original bytes
)

// DecodedImage is a normalized in-memory image. A raw image carries the
// original bytes and unknown (zero) dimensions; consumers must accept it.
type DecodedImage struct {
	Data     []byte   `json:"data"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Encoding Encoding `json:"encoding"`
}

// Normalized reports whether the image went through a successful decode.
func (d DecodedImage) Normalized() bool {
	return d.Encoding != EncodingRaw && d.Width > 0 && d.Height > 0
}
