// ABOUTME: Serves the embedded chat page and its static assets
// ABOUTME: Renders the configured welcome message from Markdown into the page

package webui

import (
	"bytes"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/yuin/goldmark"
)

type chatPageData struct {
	Title       string
	WelcomeHTML template.HTML
}

// UI renders the chat page and serves the static assets behind it.
type UI struct {
	welcomeHTML template.HTML
	logger      *slog.Logger
}

// New prepares the chat UI. The welcome message is Markdown and is
// converted to HTML once at startup.
func New(welcome string, logger *slog.Logger) *UI {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webui")

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(welcome), &buf); err != nil {
		logger.Error("failed to convert welcome message", "error", err)
		buf.Reset()
		buf.WriteString("<p>Hello! How can I help you today?</p>")
	}

	return &UI{
		welcomeHTML: template.HTML(buf.String()),
		logger:      logger,
	}
}

// ServeIndex renders the chat page. Any path other than the root gets a 404
// so asset typos do not silently return HTML.
func (u *UI) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	tmpl := template.Must(template.ParseFS(templateFS, "templates/chat.html"))

	data := chatPageData{
		Title:       "KartBot",
		WelcomeHTML: u.welcomeHTML,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		u.logger.Error("failed to render chat page", "error", err)
	}
}

// StaticHandler serves the embedded static assets. The handler expects paths
// relative to the static root (strip /static/ before calling).
func (u *UI) StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("webui: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(path.Ext(r.URL.Path))
		switch ext {
		case ".js":
			w.Header().Set("Content-Type", "application/javascript")
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		}

		// Assets are embedded in the binary, so they only change on deploy.
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}
