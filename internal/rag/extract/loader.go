package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

const (
	ExtText = ".txt"
	ExtPDF  = ".pdf"
)

// SupportedExtension reports whether name has an extension that can be loaded.
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtText, ExtPDF:
		return true
	}
	return false
}

// Loader reads files into fragments through a shared splitter.
type Loader struct {
	splitter *Splitter
}

// NewLoader creates a loader that splits with opts.
func NewLoader(opts ...SplitOption) *Loader {
	return &Loader{splitter: NewSplitter(opts...)}
}

// LoadFile dispatches on the file extension.
func (l *Loader) LoadFile(path string) ([]model.Fragment, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtText:
		return l.LoadText(path)
	case ExtPDF:
		return l.LoadPDF(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// LoadText splits a plain text file. Fragments carry no page.
func (l *Loader) LoadText(path string) ([]model.Fragment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text file: %w", err)
	}
	frags := l.fragments(string(raw), path, nil)
	logx.Info().Str("path", path).Int("chunks", len(frags)).Msg("Extracted text file")
	return frags, nil
}

// LoadPDF splits each page separately. Pages are numbered from 0.
func (l *Loader) LoadPDF(path string) ([]model.Fragment, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var frags []model.Fragment
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logx.Warn().Err(err).Str("path", path).Int("page", i-1).Msg("Skipping unreadable pdf page")
			continue
		}
		frags = append(frags, l.fragments(text, path, model.PageOf(i-1))...)
	}
	logx.Info().Str("path", path).Int("pages", total).Int("chunks", len(frags)).Msg("Extracted pdf file")
	return frags, nil
}

func (l *Loader) fragments(text, source string, page *int) []model.Fragment {
	chunks := l.splitter.Split(text)
	out := make([]model.Fragment, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, model.Fragment{Content: c, SourceID: source, Page: page})
	}
	return out
}
