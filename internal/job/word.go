package job

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mediabot/internal/media"
)

// DocumentConverter turns office documents into PDF bytes.
type DocumentConverter interface {
	ToPDF(ctx context.Context, data []byte, ext string) ([]byte, error)
}

const (
	wordRejectText   = "send a valid Word document (.doc or .docx) for Word to PDF conversion."
	wordProgressText = "holup converting word to pdf"
	wordCaption      = "here"
	wordFilename     = "converted.pdf"
)

// WordToPDF converts a Word attachment. The conversion step itself is never
// retried.
type WordToPDF struct {
	env       Env
	converter DocumentConverter
}

func NewWordToPDF(env Env, converter DocumentConverter) *WordToPDF {
	return &WordToPDF{env: env, converter: converter}
}

func (w *WordToPDF) Kind() Kind { return KindWordToPDF }

func (w *WordToPDF) FailureText(err error) string {
	return fmt.Sprintf("Conversion failed: %s. Please make sure you sent a valid Word document.", describe(err))
}

func (w *WordToPDF) Run(ctx context.Context, j *Job, req Request) (Artifact, error) {
	msg := req.Message
	if !media.IsWordMimeType(msg.MimeType) {
		return Artifact{}, reject(wordRejectText)
	}

	j.Advance(StatusFetching)
	doc, err := w.env.Fetcher.Fetch(ctx, req.Transport, msg)
	if err != nil {
		if errors.Is(err, media.ErrEmptyPayload) {
			return Artifact{}, public("Document buffer is empty", err)
		}
		return Artifact{}, public("Failed to download document. Please try again.", err)
	}
	// The declared type is only a hint; the bytes decide.
	if !media.LooksLikeWordDocument(doc) {
		return Artifact{}, reject(wordRejectText)
	}

	notify(ctx, j, req, wordProgressText)

	j.Advance(StatusTransforming)
	pdf, err := w.converter.ToPDF(ctx, doc, media.WordExtension(doc))
	if err != nil {
		return Artifact{}, public("could not convert the document", err)
	}
	if len(pdf) == 0 {
		return Artifact{}, public("PDF conversion resulted in empty buffer", nil)
	}

	j.Advance(StatusWriting)
	out := j.TempPath("converted", ".pdf")
	if err := os.WriteFile(out, pdf, 0o600); err != nil {
		return Artifact{}, public("could not save the PDF", err)
	}

	j.Advance(StatusDelivering)
	if err := req.Transport.SendFile(ctx, msg.ConversationID, out, wordFilename, wordCaption); err != nil {
		return Artifact{}, public("could not send the PDF", err)
	}
	return Artifact{Filename: wordFilename, Size: int64(len(pdf))}, nil
}
