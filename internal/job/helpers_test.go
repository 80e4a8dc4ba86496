package job

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"mediabot/internal/convert"
	"mediabot/internal/domain"
	"mediabot/internal/ledger"
	"mediabot/internal/retry"
	"mediabot/internal/state"
	"mediabot/internal/video"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentFile struct {
	conv, filename, caption string
	data                    []byte
}

// mockTransport serves FetchMedia from a scripted list of results and
// records everything sent.
type mockTransport struct {
	mu         sync.Mutex
	fetches    []func() (domain.Payload, error)
	fetchTimes []time.Time
	texts      []string
	files      []sentFile
	sendErr    error
}

func (m *mockTransport) Name() string { return "mock" }

func (m *mockTransport) FetchMedia(ctx context.Context, msg domain.InboundMessage) (domain.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.fetchTimes)
	m.fetchTimes = append(m.fetchTimes, time.Now())
	if len(m.fetches) == 0 {
		return domain.Payload{}, errors.New("no media scripted")
	}
	if i >= len(m.fetches) {
		i = len(m.fetches) - 1
	}
	return m.fetches[i]()
}

func (m *mockTransport) SendText(ctx context.Context, conv, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockTransport) SendFile(ctx context.Context, conv, path, filename, caption string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, sentFile{conv: conv, filename: filename, caption: caption, data: data})
	return nil
}

func (m *mockTransport) SimulateTyping(ctx context.Context, conv string, on bool) error { return nil }

func (m *mockTransport) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetchTimes)
}

func returns(data []byte) func() (domain.Payload, error) {
	return func() (domain.Payload, error) { return domain.BinaryPayload(data), nil }
}

func fails(msg string) func() (domain.Payload, error) {
	return func() (domain.Payload, error) { return domain.Payload{}, errors.New(msg) }
}

type fakeConverter struct {
	calls int
	out   []byte
	err   error
}

func (f *fakeConverter) ToPDF(ctx context.Context, data []byte, ext string) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

type fakeDownloader struct {
	title   string
	body    string
	openErr error
	opened  []string
	audio   bool
}

func (f *fakeDownloader) Validate(url string) error {
	if !strings.Contains(url, "youtu") {
		return errors.New("not a video url")
	}
	return nil
}

func (f *fakeDownloader) Open(ctx context.Context, url string, audioOnly bool) (*video.Stream, error) {
	f.opened = append(f.opened, url)
	f.audio = audioOnly
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &video.Stream{Title: f.title, Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

// copyTranscoder writes its input unchanged.
type copyTranscoder struct {
	format convert.Format
}

func (c *copyTranscoder) Transcode(ctx context.Context, src io.Reader, format convert.Format, dst string) error {
	c.format = format
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (r *memRecorder) Record(ctx context.Context, e ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	t        *testing.T
	dir      string
	store    *state.MemoryStore
	env      Env
	runner   *Runner
	recorder *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store := state.NewMemoryStore(state.Options{})
	rec := &memRecorder{}
	policy := retry.Policy{Attempts: 3, Timeout: time.Second, Backoff: 10 * time.Millisecond}
	env := Env{
		Store:   store,
		Fetcher: NewFetcher(policy, testLogger()),
		WorkDir: dir,
		Logger:  testLogger(),
	}
	return &harness{
		t:        t,
		dir:      dir,
		store:    store,
		env:      env,
		runner:   NewRunner(RunnerConfig{WorkDir: dir, Recorder: rec, Logger: testLogger()}),
		recorder: rec,
	}
}

// assertNoTempFiles fails when a job left anything in the work dir.
func (h *harness) assertNoTempFiles() {
	h.t.Helper()
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.t.Fatal(err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		h.t.Fatalf("temp files left behind: %v", names)
	}
}

func jpegOf(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 3), B: uint8(y * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decoded(t *testing.T, w, h int, shade uint8) domain.DecodedImage {
	return domain.DecodedImage{Data: jpegOf(t, w, h, shade), Width: w, Height: h, Encoding: domain.EncodingJPEG}
}

func docxBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "word/document.xml"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte("<xml/>"))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
