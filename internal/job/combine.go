package job

import (
	"context"
	"fmt"
	"os"

	"mediabot/internal/media"
	"mediabot/internal/pdf"
)

const (
	noBufferedImagesText = "No images found for this session. Please send some images first, then ask me to convert them to PDF."
	combineFilename      = "combined.pdf"
)

// CombineImages writes every buffered image of the conversation to its own
// page. The buffer is cleared only after the PDF was handed to the
// transport; any earlier failure leaves it untouched for a retry.
type CombineImages struct {
	env Env
}

func NewCombineImages(env Env) *CombineImages { return &CombineImages{env: env} }

func (p *CombineImages) Kind() Kind { return KindCombine }

func (p *CombineImages) FailureText(err error) string {
	return fmt.Sprintf("Couldn't combine your images: %s. They are still saved, ask again to retry.", describe(err))
}

func (p *CombineImages) Run(ctx context.Context, j *Job, req Request) (Artifact, error) {
	conv := req.Message.ConversationID

	j.Advance(StatusFetching)
	images, err := p.env.Store.SnapshotImages(ctx, conv)
	if err != nil {
		return Artifact{}, public("could not read your images", err)
	}
	if len(images) == 0 {
		return Artifact{}, &Rejection{Text: noBufferedImagesText, Err: ErrNoImages}
	}

	notify(ctx, j, req, fmt.Sprintf("holup %d images to PDF...", len(images)))

	j.Advance(StatusTransforming)
	doc := pdf.New()
	for i, img := range images {
		if len(img.Data) == 0 {
			j.Logger().Warn("skipping empty buffered image", "index", i)
			continue
		}
		if err := addCombinedPage(doc, img.Data); err != nil {
			j.Logger().Warn("skipping image the pdf writer rejected", "index", i, "err", err)
		}
	}
	if doc.PageCount() == 0 {
		return Artifact{}, public("none of the images could be placed", ErrNoImages)
	}

	j.Advance(StatusWriting)
	out := j.TempPath("combined", ".pdf")
	if err := doc.WriteFile(out); err != nil {
		return Artifact{}, public("could not save the PDF", err)
	}
	size := fileSize(out)

	j.Advance(StatusDelivering)
	pages := doc.PageCount()
	caption := fmt.Sprintf("here %d images combined!", pages)
	if err := req.Transport.SendFile(ctx, conv, out, combineFilename, caption); err != nil {
		return Artifact{}, public("could not send the PDF", err)
	}

	if err := p.env.Store.ClearImages(ctx, conv); err != nil {
		j.Logger().Warn("image buffer not cleared after delivery", "err", err)
	}
	return Artifact{Filename: combineFilename, Size: size, Pages: pages}, nil
}

// addCombinedPage places one image, preferring an alpha-aware re-encode and
// falling back to the stored bytes. Unreadable metadata assumes 800×600.
func addCombinedPage(doc *pdf.Document, data []byte) error {
	w, h, _ := media.DimensionsOrDefault(data)
	place := pdf.Fit(w, h)

	processed, err := media.ReencodeAlpha(data)
	if err != nil {
		processed = data
	}
	if err := doc.AddImagePage(processed, place); err == nil {
		return nil
	}
	return doc.AddImagePage(data, place)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
