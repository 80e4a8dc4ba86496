package job

import (
	"context"
	"fmt"

	"mediabot/internal/domain"
	"mediabot/internal/media"
	"mediabot/internal/pdf"
)

const (
	noImageText   = "No images found. Please send an image first."
	imageCaption  = "there you go"
	imageFilename = "converted.pdf"
)

// ImageToPDF puts one image on a single A4 page. It prefers the trigger
// message's own image and falls back to the newest buffered one.
type ImageToPDF struct {
	env Env
}

func NewImageToPDF(env Env) *ImageToPDF { return &ImageToPDF{env: env} }

func (p *ImageToPDF) Kind() Kind { return KindImageToPDF }

func (p *ImageToPDF) FailureText(err error) string {
	return fmt.Sprintf("There was an issue processing your image: %s. Please try sending the image again or try a different image format.", describe(err))
}

func (p *ImageToPDF) Run(ctx context.Context, j *Job, req Request) (Artifact, error) {
	msg := req.Message

	j.Advance(StatusFetching)
	img, fromMessage, err := p.resolve(ctx, msg.ConversationID, req.Current)
	if err != nil {
		return Artifact{}, err
	}
	if img == nil {
		return Artifact{}, &Rejection{Text: noImageText, Err: ErrNoImages}
	}

	j.Advance(StatusTransforming)
	w, h, ok := media.DimensionsOrDefault(img.Data)
	if !ok {
		j.Logger().Warn("image metadata unreadable, assuming default size", "width", w, "height", h)
	}
	place := pdf.Fit(w, h)

	doc := pdf.New()
	if err := doc.AddImagePage(img.Data, place); err != nil {
		j.Logger().Warn("processed image rejected by pdf writer, refetching original", "err", err)
		if !fromMessage {
			return Artifact{}, public("the image could not be placed", err)
		}
		raw, ferr := p.env.Fetcher.FetchOnce(ctx, req.Transport, msg)
		if ferr != nil {
			return Artifact{}, public("could not read the original image", ferr)
		}
		if err := doc.AddImagePage(raw, place); err != nil {
			return Artifact{}, public("the image could not be placed", err)
		}
	}

	j.Advance(StatusWriting)
	out := j.TempPath("converted", ".pdf")
	if err := doc.WriteFile(out); err != nil {
		return Artifact{}, public("could not save the PDF", err)
	}
	size := fileSize(out)

	j.Advance(StatusDelivering)
	if err := req.Transport.SendFile(ctx, msg.ConversationID, out, imageFilename, imageCaption); err != nil {
		return Artifact{}, public("could not send the PDF", err)
	}
	return Artifact{Filename: imageFilename, Size: size, Pages: doc.PageCount()}, nil
}

// resolve returns the image to convert and whether it came from the trigger
// message itself.
func (p *ImageToPDF) resolve(ctx context.Context, conv string, current *domain.DecodedImage) (*domain.DecodedImage, bool, error) {
	if current != nil && len(current.Data) > 0 {
		return current, true, nil
	}
	images, err := p.env.Store.SnapshotImages(ctx, conv)
	if err != nil {
		return nil, false, public("could not read your images", err)
	}
	for i := len(images) - 1; i >= 0; i-- {
		if len(images[i].Data) > 0 {
			img := images[i]
			return &img, false, nil
		}
	}
	return nil, false, nil
}
