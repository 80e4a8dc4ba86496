// Package convert wraps the external office and media tool chains.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LibreOffice converts office documents to PDF with a headless soffice.
// Every call gets a private profile directory so conversions can run in
// parallel.
type LibreOffice struct {
	path    string
	workDir string
	logger  *slog.Logger
}

type LibreOfficeConfig struct {
	Path    string // soffice binary; "" = look up on PATH
	WorkDir string
	Logger  *slog.Logger
}

func NewLibreOffice(cfg LibreOfficeConfig) *LibreOffice {
	if cfg.Path == "" {
		cfg.Path = "soffice"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LibreOffice{path: cfg.Path, workDir: cfg.WorkDir, logger: cfg.Logger}
}

// ToPDF converts data, whose original extension is ext (".docx", ".doc"),
// and returns the PDF bytes. There is no timeout beyond ctx.
func (l *LibreOffice) ToPDF(ctx context.Context, data []byte, ext string) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	if ext == "" {
		ext = ".docx"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir, err := os.MkdirTemp(l.workDir, "soffice_*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	profile := (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(dir, "profile"))}).String()
	cmd := exec.CommandContext(ctx, l.path,
		"-env:UserInstallation="+profile,
		"--headless", "--norestore",
		"--convert-to", "pdf",
		"--outdir", dir,
		in,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("soffice: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out, err := os.ReadFile(filepath.Join(dir, "input.pdf"))
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	l.logger.Debug("document converted", "in", len(data), "out", len(out))
	return out, nil
}
