package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"campusforum/api/internal/forum"
)

func sampleView() forum.PostView {
	now := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
	post := forum.NewPost("post_1", forum.Author{ID: "ada", Role: "student", Name: "Ada Lovelace"}, "Lab <partners>", "Looking for a partner", "Tech", []string{"physics"}, now)
	_ = post.AddReply("", forum.NewReply("rep_1", forum.Author{ID: "grace"}, "hello", now), 0)
	_ = post.AddReply("rep_1", forum.NewReply("rep_2", forum.Author{ID: "linus"}, "world", now), 0)
	_ = post.Vote("rep_2", "v1", forum.VoteLike)
	_ = post.Vote("", "v2", forum.VoteDislike)
	return forum.NewPostView(post, "")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Midterm notes v1.2", "Midterm-notes-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "post"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDataURLEncodesSpacesAsPercent20(t *testing.T) {
	got := dataURL("<p>hello world</p>")
	if !strings.HasPrefix(got, "data:text/html;charset=utf-8,") {
		t.Fatalf("missing data URL prefix: %q", got)
	}
	if strings.Contains(got, "+") || !strings.Contains(got, "hello%20world") {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

func TestRenderPostHTMLNestsReplies(t *testing.T) {
	html, err := RenderPostHTML(NewTemplateData(sampleView()))
	if err != nil {
		t.Fatalf("RenderPostHTML() error = %v", err)
	}

	if !strings.Contains(html, "Lab &lt;partners&gt;") {
		t.Error("title should be escaped")
	}
	if !strings.Contains(html, "Replies (2)") {
		t.Error("HTML missing reply count")
	}
	if !strings.Contains(html, "0 likes, 1 dislikes") {
		t.Error("HTML missing post vote counts")
	}
	hello := strings.Index(html, "hello")
	world := strings.Index(html, "world")
	if hello < 0 || world < hello {
		t.Fatal("replies missing or out of order")
	}
	if strings.Count(html, `<ul class="replies">`) != 2 {
		t.Errorf("expected two nested reply lists, got %d", strings.Count(html, `<ul class="replies">`))
	}
	if !strings.Contains(html, "Ada Lovelace") || !strings.Contains(html, "grace") {
		t.Error("authors should render by name, falling back to id")
	}
	if strings.Contains(html, "v1") || strings.Contains(html, "v2") {
		t.Error("export must not reveal voter ids")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(context.Background(), sampleView(), FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Lab-partners.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata: %s %s", result.Filename, result.MimeType)
	}
}

func TestExportPDFUsesPrinter(t *testing.T) {
	svc := &Service{printPDF: func(_ context.Context, html string) ([]byte, error) {
		if !strings.Contains(html, "<html") {
			t.Fatalf("printer received non-HTML input")
		}
		return []byte("%PDF-1.7"), nil
	}}
	result, err := svc.Export(context.Background(), sampleView(), FormatPDF)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if string(result.Data) != "%PDF-1.7" || result.MimeType != "application/pdf" {
		t.Fatalf("unexpected pdf result: %+v", result)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, err := NewService().Export(context.Background(), sampleView(), Format("docx"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Export() error = %v, want ErrUnsupportedFormat", err)
	}
	if _, ok := ParseFormat("docx"); ok {
		t.Fatal("ParseFormat should reject docx")
	}
	if f, ok := ParseFormat(""); !ok || f != FormatHTML {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, ok)
	}
}
