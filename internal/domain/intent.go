package domain

// Intent is the conversion action inferred from a message's text.
type Intent string

const (
	IntentNone         Intent = ""
	IntentWordToPDF    Intent = "word-to-pdf"
	IntentCombineToPDF Intent = "combine-images-to-pdf"
	IntentImageToPDF   Intent = "image-to-pdf"
	IntentYouTubeMP3   Intent = "youtube-mp3"
	IntentYouTubeMP4   Intent = "youtube-mp4"
)

// Intents lists every non-empty intent in the closed set.
var Intents = []Intent{
	IntentWordToPDF,
	IntentCombineToPDF,
	IntentImageToPDF,
	IntentYouTubeMP3,
	IntentYouTubeMP4,
}

// ParseIntent maps s onto the closed set; anything else is IntentNone.
func ParseIntent(s string) Intent {
	for _, in := range Intents {
		if string(in) == s {
			return in
		}
	}
	return IntentNone
}

func (i Intent) String() string {
	if i == IntentNone {
		return "none"
	}
	return string(i)
}

// IsDownload reports whether the intent asks for a media download.
func (i Intent) IsDownload() bool {
	return i == IntentYouTubeMP3 || i == IntentYouTubeMP4
}
