package export

import (
	"context"
	"fmt"

	"campusforum/api/internal/forum"
)

// Service renders post exports. The PDF printer is swappable so tests do not
// need a browser.
type Service struct {
	printPDF func(ctx context.Context, html string) ([]byte, error)
}

func NewService() *Service {
	return &Service{printPDF: printPDF}
}

// Export renders view in the requested format.
func (s *Service) Export(ctx context.Context, view forum.PostView, format Format) (*Result, error) {
	html, err := RenderPostHTML(NewTemplateData(view))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	name := sanitizeFilename(view.Title)
	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: name + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.printPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: name + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
