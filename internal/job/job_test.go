package job

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediabot/internal/convert"
	"mediabot/internal/domain"
	"mediabot/internal/media"
	"mediabot/internal/retry"
)

func docMessage(mime string) domain.InboundMessage {
	return domain.InboundMessage{
		ID: "m1", Channel: "mock", ConversationID: "conv", Kind: domain.KindDocument,
		MimeType: mime, Filename: "report.docx", MediaRef: "ref",
	}
}

func imageMessage() domain.InboundMessage {
	return domain.InboundMessage{
		ID: "m2", Channel: "mock", ConversationID: "conv", Kind: domain.KindImage,
		MimeType: "image/jpeg", MediaRef: "ref",
	}
}

// --- status machine ---

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusFetching, true},
		{StatusFetching, StatusWriting, true},
		{StatusWriting, StatusFetching, false},
		{StatusDelivering, StatusDone, true},
		{StatusPending, StatusFailed, true},
		{StatusWriting, StatusFailed, true},
		{StatusDone, StatusFailed, false},
		{StatusFailed, StatusDone, false},
		{StatusFetching, StatusFetching, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s → %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestJob_AdvanceTracksStage(t *testing.T) {
	j := newJob(KindCombine, imageMessage(), t.TempDir(), testLogger())
	j.Advance(StatusFetching)
	j.Advance(StatusTransforming)
	if err := j.Advance(StatusFetching); err == nil {
		t.Fatal("backward transition should fail")
	}
	j.Advance(StatusFailed)
	if j.Status() != StatusFailed || j.Stage() != StatusTransforming {
		t.Fatalf("expected failed at transforming, got %s at %s", j.Status(), j.Stage())
	}
}

func TestJob_CleanupIdempotent(t *testing.T) {
	dir := t.TempDir()
	j := newJob(KindWordToPDF, docMessage(media.MimeDOCX), dir, testLogger())
	p := j.TempPath("converted", "pdf")
	if !strings.HasSuffix(p, ".pdf") || !strings.HasPrefix(filepath.Base(p), "converted_") {
		t.Fatalf("unexpected temp path %s", p)
	}
	os.WriteFile(p, []byte("x"), 0o600)
	j.Cleanup()
	j.Cleanup()
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("temp file should be removed")
	}
}

// --- word to pdf ---

func TestWordToPDF_MismatchedTypeNeverConverts(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){returns(docxBytes(t))}}
	conv := &fakeConverter{out: []byte("%PDF-1.4")}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, conv), Request{
		Message: docMessage("application/pdf"), Transport: tr,
	})

	if conv.calls != 0 {
		t.Fatalf("converter must not run, got %d calls", conv.calls)
	}
	if tr.fetchCount() != 0 {
		t.Fatalf("media must not be fetched, got %d fetches", tr.fetchCount())
	}
	if out.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if len(tr.texts) != 1 || tr.texts[0] != wordRejectText {
		t.Fatalf("expected exactly the rejection reply, got %v", tr.texts)
	}
	if len(tr.files) != 0 {
		t.Fatal("no file should be sent")
	}
}

func TestWordToPDF_Success(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){returns(docxBytes(t))}}
	conv := &fakeConverter{out: []byte("%PDF-1.4 converted")}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, conv), Request{
		Message: docMessage(media.MimeDOCX), Transport: tr,
	})

	if out.Status != StatusDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if conv.calls != 1 {
		t.Fatalf("expected 1 conversion, got %d", conv.calls)
	}
	if len(tr.files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(tr.files))
	}
	f := tr.files[0]
	if f.filename != "converted.pdf" || f.caption != "here" || string(f.data) != "%PDF-1.4 converted" {
		t.Fatalf("unexpected delivery %+v", f)
	}
	if len(tr.texts) != 1 || tr.texts[0] != wordProgressText {
		t.Fatalf("expected only the progress notice, got %v", tr.texts)
	}
	h.assertNoTempFiles()

	if len(h.recorder.entries) != 1 || h.recorder.entries[0].Status != "done" {
		t.Fatalf("expected one done ledger entry, got %+v", h.recorder.entries)
	}
}

func TestWordToPDF_NonWordBytesRejected(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){returns([]byte("just some plain text"))}}
	conv := &fakeConverter{out: []byte("%PDF")}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, conv), Request{
		Message: docMessage(media.MimeDOC), Transport: tr,
	})
	if conv.calls != 0 {
		t.Fatal("converter must not run on non-word bytes")
	}
	if out.Reply != wordRejectText {
		t.Fatalf("expected rejection, got %q", out.Reply)
	}
}

func TestWordToPDF_EmptyConversionFails(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){returns(docxBytes(t))}}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, &fakeConverter{}), Request{
		Message: docMessage(media.MimeDOCX), Transport: tr,
	})
	if out.Status != StatusFailed {
		t.Fatal("expected failure on empty conversion output")
	}
	if !strings.HasPrefix(out.Reply, "Conversion failed: PDF conversion resulted in empty buffer") {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if out.Stage != StatusTransforming {
		t.Fatalf("expected failure at transforming, got %s", out.Stage)
	}
	h.assertNoTempFiles()
}

func TestWordToPDF_FetchRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.env.Fetcher = NewFetcher(retry.Policy{Attempts: 3, Timeout: time.Second, Backoff: time.Second}, testLogger())
	tr := &mockTransport{fetches: []func() (domain.Payload, error){
		fails("decrypt failed"), fails("decrypt failed"), returns(docxBytes(t)),
	}}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, &fakeConverter{out: []byte("%PDF")}), Request{
		Message: docMessage(media.MimeDOCX), Transport: tr,
	})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if tr.fetchCount() != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", tr.fetchCount())
	}
	for i := 1; i < len(tr.fetchTimes); i++ {
		if gap := tr.fetchTimes[i].Sub(tr.fetchTimes[i-1]); gap < time.Second {
			t.Fatalf("fetch %d followed the previous after %v, expected >= 1s", i, gap)
		}
	}
}

func TestWordToPDF_FetchAlwaysFails(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){fails("decrypt failed")}}
	conv := &fakeConverter{out: []byte("%PDF")}

	out := h.runner.Run(context.Background(), NewWordToPDF(h.env, conv), Request{
		Message: docMessage(media.MimeDOCX), Transport: tr,
	})
	if tr.fetchCount() != 3 {
		t.Fatalf("expected exactly 3 fetches, got %d", tr.fetchCount())
	}
	if out.Status != StatusFailed || !errors.Is(out.Err, retry.ErrExhausted) {
		t.Fatalf("expected exhausted failure, got %s %v", out.Status, out.Err)
	}
	if len(tr.texts) != 1 || !strings.Contains(tr.texts[0], "Failed to download document") {
		t.Fatalf("expected one failure reply, got %v", tr.texts)
	}
	if conv.calls != 0 {
		t.Fatal("converter must not run without input")
	}
}

// --- image to pdf ---

func TestImageToPDF_PicksMostRecentBuffered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := decoded(t, 40, 30, 10), decoded(t, 30, 40, 200)
	h.store.AppendImage(ctx, "conv", a)
	h.store.AppendImage(ctx, "conv", b)
	tr := &mockTransport{}

	msg := domain.InboundMessage{ID: "t", ConversationID: "conv", Kind: domain.KindText, Body: "make it a pdf"}
	out := h.runner.Run(ctx, NewImageToPDF(h.env), Request{Message: msg, Transport: tr})

	if out.Status != StatusDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if out.Artifact.Pages != 1 {
		t.Fatalf("expected a single page, got %d", out.Artifact.Pages)
	}
	pdf := tr.files[0].data
	if !bytes.Contains(pdf, b.Data) {
		t.Fatal("output should embed the most recent image")
	}
	if bytes.Contains(pdf, a.Data) {
		t.Fatal("output must not embed the older image")
	}
	if tr.files[0].caption != "there you go" {
		t.Fatalf("unexpected caption %q", tr.files[0].caption)
	}
	if snap, _ := h.store.SnapshotImages(ctx, "conv"); len(snap) != 2 {
		t.Fatal("single-image conversion must not touch the buffer")
	}
	h.assertNoTempFiles()
}

func TestImageToPDF_PrefersCurrentMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old, cur := decoded(t, 20, 20, 1), decoded(t, 25, 15, 99)
	h.store.AppendImage(ctx, "conv", old)

	tr := &mockTransport{}
	out := h.runner.Run(ctx, NewImageToPDF(h.env), Request{Message: imageMessage(), Transport: tr, Current: &cur})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %v", out.Err)
	}
	if !bytes.Contains(tr.files[0].data, cur.Data) {
		t.Fatal("expected the trigger message's image")
	}
}

func TestImageToPDF_NoImage(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{}
	out := h.runner.Run(context.Background(), NewImageToPDF(h.env), Request{Message: imageMessage(), Transport: tr})
	if !errors.Is(out.Err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", out.Err)
	}
	if len(tr.texts) != 1 || tr.texts[0] != noImageText {
		t.Fatalf("expected no-image reply, got %v", tr.texts)
	}
}

func TestImageToPDF_RefetchesOriginalWhenRejected(t *testing.T) {
	h := newHarness(t)
	original := jpegOf(t, 16, 16, 50)
	tr := &mockTransport{fetches: []func() (domain.Payload, error){returns(original)}}
	unplaceable := domain.DecodedImage{Data: []byte("RIFF....WEBPVP8 broken"), Encoding: domain.EncodingRaw}

	out := h.runner.Run(context.Background(), NewImageToPDF(h.env), Request{
		Message: imageMessage(), Transport: tr, Current: &unplaceable,
	})
	if out.Status != StatusDone {
		t.Fatalf("expected done after fallback, got %v", out.Err)
	}
	if tr.fetchCount() != 1 {
		t.Fatalf("expected one refetch, got %d", tr.fetchCount())
	}
	if !bytes.Contains(tr.files[0].data, original) {
		t.Fatal("expected the original bytes in the output")
	}
}

// --- combine ---

func TestCombine_NPagesAndBufferCleared(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.store.AppendImage(ctx, "conv", decoded(t, 30+i*10, 20, uint8(i*60)))
	}
	tr := &mockTransport{}
	msg := domain.InboundMessage{ID: "t", ConversationID: "conv", Body: "combine them"}

	out := h.runner.Run(ctx, NewCombineImages(h.env), Request{Message: msg, Transport: tr})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %s (%v)", out.Status, out.Err)
	}
	if out.Artifact.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", out.Artifact.Pages)
	}
	if tr.files[0].filename != "combined.pdf" || tr.files[0].caption != "here 3 images combined!" {
		t.Fatalf("unexpected delivery %+v", tr.files[0])
	}
	if len(tr.texts) != 1 || tr.texts[0] != "holup 3 images to PDF..." {
		t.Fatalf("expected progress notice only, got %v", tr.texts)
	}
	if snap, _ := h.store.SnapshotImages(ctx, "conv"); len(snap) != 0 {
		t.Fatalf("buffer should be empty after delivery, got %d", len(snap))
	}
	h.assertNoTempFiles()
}

func TestCombine_FailedDeliveryPreservesBuffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		h.store.AppendImage(ctx, "conv", decoded(t, 20, 20, uint8(i)))
	}
	tr := &mockTransport{sendErr: errors.New("upload failed")}
	msg := domain.InboundMessage{ID: "t", ConversationID: "conv"}

	out := h.runner.Run(ctx, NewCombineImages(h.env), Request{Message: msg, Transport: tr})
	if out.Status != StatusFailed || out.Stage != StatusDelivering {
		t.Fatalf("expected failure while delivering, got %s at %s", out.Status, out.Stage)
	}
	if snap, _ := h.store.SnapshotImages(ctx, "conv"); len(snap) != 2 {
		t.Fatalf("buffer must be preserved on failure, got %d", len(snap))
	}
	h.assertNoTempFiles()
}

func TestCombine_FailedWritePreservesBuffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		h.store.AppendImage(ctx, "conv", decoded(t, 20, 20, uint8(i)))
	}
	// The runner's work dir does not exist, so the PDF cannot be saved.
	runner := NewRunner(RunnerConfig{WorkDir: filepath.Join(h.dir, "missing"), Logger: testLogger()})
	tr := &mockTransport{}

	out := runner.Run(ctx, NewCombineImages(h.env), Request{Message: domain.InboundMessage{ID: "t", ConversationID: "conv"}, Transport: tr})
	if out.Status != StatusFailed || out.Stage != StatusWriting {
		t.Fatalf("expected failure while writing, got %s at %s", out.Status, out.Stage)
	}
	if len(tr.files) != 0 {
		t.Fatal("nothing should be delivered")
	}
	if snap, _ := h.store.SnapshotImages(ctx, "conv"); len(snap) != 2 {
		t.Fatalf("buffer must be preserved on failure, got %d", len(snap))
	}
}

func TestCombine_AllImagesRejectedPreservesBuffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.AppendImage(ctx, "conv", domain.DecodedImage{Data: []byte("garbage"), Encoding: domain.EncodingRaw})
	tr := &mockTransport{}

	out := h.runner.Run(ctx, NewCombineImages(h.env), Request{Message: domain.InboundMessage{ConversationID: "conv"}, Transport: tr})
	if out.Status != StatusFailed || out.Stage != StatusTransforming {
		t.Fatalf("expected failure while transforming, got %s at %s", out.Status, out.Stage)
	}
	if snap, _ := h.store.SnapshotImages(ctx, "conv"); len(snap) != 1 {
		t.Fatalf("buffer must be preserved on failure, got %d", len(snap))
	}
	h.assertNoTempFiles()
}

func TestCombine_SkipsEmptyAndUnplaceable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.AppendImage(ctx, "conv", decoded(t, 20, 20, 1))
	h.store.AppendImage(ctx, "conv", domain.DecodedImage{})
	h.store.AppendImage(ctx, "conv", domain.DecodedImage{Data: []byte("garbage"), Encoding: domain.EncodingRaw})
	h.store.AppendImage(ctx, "conv", decoded(t, 20, 20, 2))
	tr := &mockTransport{}

	out := h.runner.Run(ctx, NewCombineImages(h.env), Request{Message: domain.InboundMessage{ConversationID: "conv"}, Transport: tr})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %v", out.Err)
	}
	if out.Artifact.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", out.Artifact.Pages)
	}
}

func TestCombine_EmptyBuffer(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{}
	out := h.runner.Run(context.Background(), NewCombineImages(h.env), Request{Message: domain.InboundMessage{ConversationID: "conv"}, Transport: tr})
	if len(tr.texts) != 1 || tr.texts[0] != noBufferedImagesText {
		t.Fatalf("expected no-images reply, got %v", tr.texts)
	}
	if !errors.Is(out.Err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", out.Err)
	}
}

// --- media download ---

func downloadMessage(body string) domain.InboundMessage {
	return domain.InboundMessage{ID: "d", ConversationID: "conv", Kind: domain.KindText, Body: body}
}

func TestMediaDownload_MP3(t *testing.T) {
	h := newHarness(t)
	dl := &fakeDownloader{title: "My Song (Live!)", body: "mp3 bytes"}
	tc := &copyTranscoder{}
	p := NewMediaDownload(h.env, MediaDownloadConfig{Downloader: dl, Transcoder: tc, Format: convert.FormatMP3})
	tr := &mockTransport{}

	out := h.runner.Run(context.Background(), p, Request{
		Message: downloadMessage("mp3 pls https://www.youtube.com/watch?v=AbCdEfGhIjK"), Transport: tr,
	})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %v", out.Err)
	}
	if p.Kind() != KindYouTubeMP3 || !dl.audio || tc.format != convert.FormatMP3 {
		t.Fatal("expected the audio path")
	}
	if dl.opened[0] != "https://www.youtube.com/watch?v=AbCdEfGhIjK" {
		t.Fatalf("link case must be preserved, got %q", dl.opened[0])
	}
	f := tr.files[0]
	if f.filename != "My Song Live.mp3" || f.caption != "here's your mp3" || string(f.data) != "mp3 bytes" {
		t.Fatalf("unexpected delivery %+v", f)
	}
	if tr.texts[0] != "holup downloading audio..." {
		t.Fatalf("unexpected notice %q", tr.texts[0])
	}
	h.assertNoTempFiles()
}

func TestMediaDownload_MP4(t *testing.T) {
	h := newHarness(t)
	dl := &fakeDownloader{title: "Cat / Video?", body: "mp4 bytes"}
	tc := &copyTranscoder{}
	p := NewMediaDownload(h.env, MediaDownloadConfig{Downloader: dl, Transcoder: tc, Format: convert.FormatMP4})
	tr := &mockTransport{}

	out := h.runner.Run(context.Background(), p, Request{
		Message: downloadMessage("download this https://youtu.be/AbCdEfGhIjK"), Transport: tr,
	})
	if out.Status != StatusDone {
		t.Fatalf("expected done, got %v", out.Err)
	}
	if p.Kind() != KindYouTubeMP4 || out.Kind != KindYouTubeMP4 || dl.audio || tc.format != convert.FormatMP4 {
		t.Fatal("expected the video path")
	}
	f := tr.files[0]
	if f.filename != "Cat  Video.mp4" || f.caption != "here's your mp4" || string(f.data) != "mp4 bytes" {
		t.Fatalf("unexpected delivery %+v", f)
	}
	if out.Artifact.Filename != f.filename || out.Artifact.Size != int64(len("mp4 bytes")) {
		t.Fatalf("unexpected artifact %+v", out.Artifact)
	}
	if tr.texts[0] != "holup downloading video..." {
		t.Fatalf("unexpected notice %q", tr.texts[0])
	}
	h.assertNoTempFiles()
}

func TestMediaDownload_NoLink(t *testing.T) {
	h := newHarness(t)
	dl := &fakeDownloader{}
	p := NewMediaDownload(h.env, MediaDownloadConfig{Downloader: dl, Transcoder: &copyTranscoder{}, Format: convert.FormatMP4})
	tr := &mockTransport{}

	h.runner.Run(context.Background(), p, Request{Message: downloadMessage("download this video"), Transport: tr})
	if len(tr.texts) != 1 || tr.texts[0] != noLinkText {
		t.Fatalf("expected link rejection only, got %v", tr.texts)
	}
	if len(dl.opened) != 0 {
		t.Fatal("downloader must not be called")
	}
}

func TestMediaDownload_TooLarge(t *testing.T) {
	h := newHarness(t)
	dl := &fakeDownloader{title: "big", body: strings.Repeat("x", 64)}
	p := NewMediaDownload(h.env, MediaDownloadConfig{Downloader: dl, Transcoder: &copyTranscoder{}, Format: convert.FormatMP4, MaxBytes: 32})
	tr := &mockTransport{}

	out := h.runner.Run(context.Background(), p, Request{Message: downloadMessage("video youtu.be/AbCdEfGhIjK"), Transport: tr})
	if !IsTooLarge(out) {
		t.Fatalf("expected size rejection, got %v", out.Err)
	}
	if len(tr.files) != 0 {
		t.Fatal("oversized artifact must not be delivered")
	}
	if tr.texts[len(tr.texts)-1] != tooLargeText {
		t.Fatalf("unexpected reply %v", tr.texts)
	}
	h.assertNoTempFiles()
}

func TestMediaDownload_OpenFails(t *testing.T) {
	h := newHarness(t)
	dl := &fakeDownloader{openErr: errors.New("video unavailable")}
	p := NewMediaDownload(h.env, MediaDownloadConfig{Downloader: dl, Transcoder: &copyTranscoder{}, Format: convert.FormatMP4})
	tr := &mockTransport{}

	out := h.runner.Run(context.Background(), p, Request{Message: downloadMessage("youtu.be/AbCdEfGhIjK video"), Transport: tr})
	if out.Reply != "Failed to download: video unavailable. specific vids might be restricted or too long." {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
}

// --- runner ---

type panicky struct{}

func (panicky) Kind() Kind { return KindImageToPDF }

func (panicky) FailureText(err error) string { return "oops: " + describe(err) }

func (panicky) Run(ctx context.Context, j *Job, req Request) (Artifact, error) {
	j.TempPath("converted", ".pdf")
	panic("boom")
}

func TestRunner_RecoversPanic(t *testing.T) {
	h := newHarness(t)
	tr := &mockTransport{}
	out := h.runner.Run(context.Background(), panicky{}, Request{Message: imageMessage(), Transport: tr})
	if out.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if len(tr.texts) != 1 || tr.texts[0] != "oops: unexpected error" {
		t.Fatalf("expected one failure reply, got %v", tr.texts)
	}
	if !strings.Contains(h.recorder.entries[0].Error, "panic: boom") {
		t.Fatalf("ledger should keep the cause, got %q", h.recorder.entries[0].Error)
	}
}

// --- temp files ---

func TestSweepOrphans(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	names := map[string]bool{
		filepath.Base(TempName(dir, "converted", ".pdf", old)): true,
		filepath.Base(TempName(dir, "download", "mp3", old)):   true,
		"normalize_12345.tmp":                                  true,
		"keep-me.txt":                                          false,
		"notes.pdf":                                            false,
	}
	for name := range names {
		p := filepath.Join(dir, name)
		os.WriteFile(p, []byte("x"), 0o600)
		os.Chtimes(p, old, old)
	}
	fresh := TempName(dir, "combined", ".pdf", time.Now())
	os.WriteFile(fresh, []byte("x"), 0o600)

	n, err := SweepOrphans(dir, time.Hour, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 removed, got %d", n)
	}
	for name, orphan := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		if orphan && err == nil {
			t.Errorf("%s should be removed", name)
		}
		if !orphan && err != nil {
			t.Errorf("%s should be kept", name)
		}
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh artifact should be kept")
	}
}

func TestSweepOrphans_MissingDir(t *testing.T) {
	n, err := SweepOrphans(filepath.Join(t.TempDir(), "nope"), time.Hour, testLogger())
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
}
