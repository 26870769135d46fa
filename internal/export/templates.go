package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"campusforum/api/internal/forum"
)

//go:embed templates/*.html
var templateFS embed.FS

var postTemplate = template.Must(template.New("post.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.UTC().Format(layout)
	},
}).ParseFS(templateFS, "templates/post.html"))

// TemplateData holds data for post template rendering
type TemplateData struct {
	Title        string
	Category     string
	Tags         []string
	Author       string
	CreatedAt    time.Time
	Content      string
	LikeCount    int
	DislikeCount int
	ReplyCount   int
	Replies      []TemplateReply
}

type TemplateReply struct {
	Author       string
	Text         string
	LikeCount    int
	DislikeCount int
	Replies      []TemplateReply
}

// NewTemplateData copies a rendered view into template data. Only counts are
// exported, never who voted.
func NewTemplateData(view forum.PostView) TemplateData {
	return TemplateData{
		Title:        view.Title,
		Category:     view.Category,
		Tags:         view.Tags,
		Author:       view.Author.DisplayName(),
		CreatedAt:    view.CreatedAt,
		Content:      view.Content,
		LikeCount:    view.LikeCount,
		DislikeCount: view.DislikeCount,
		ReplyCount:   view.ReplyCount,
		Replies:      templateReplies(view.Replies),
	}
}

func templateReplies(replies []forum.ReplyView) []TemplateReply {
	out := make([]TemplateReply, 0, len(replies))
	for _, reply := range replies {
		out = append(out, TemplateReply{
			Author:       reply.Author.DisplayName(),
			Text:         reply.Text,
			LikeCount:    reply.LikeCount,
			DislikeCount: reply.DislikeCount,
			Replies:      templateReplies(reply.Replies),
		})
	}
	return out
}

func RenderPostHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := postTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
