// ABOUTME: Template rendering for the login, unauthorized, and notes pages
// ABOUTME: Note bodies are rendered from markdown with goldmark

package web

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/fernwood/notegate/internal/gate"
	"github.com/fernwood/notegate/internal/store"
)

type pageData struct {
	Title string
}

type notesData struct {
	Title string
	Notes []*store.Note
}

type noteData struct {
	Title    string
	Note     *store.Note
	Rendered template.HTML
}

type noteEditData struct {
	Title  string
	Note   *store.Note
	Action string
}

// pageNames lists every page rendered against the base layout.
var pageNames = []string{
	"login.html",
	"unauthorized.html",
	"notes.html",
	"note.html",
	"note_edit.html",
}

// parseTemplates parses every page once. The files are embedded, so a
// parse failure is a build defect and panics at construction.
func parseTemplates() map[string]*template.Template {
	m := make(map[string]*template.Template, len(pageNames))
	for _, page := range pageNames {
		m[page] = template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/"+page))
	}
	return m
}

func (s *Server) render(w http.ResponseWriter, page string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		s.logger.Error("no template for page", "page", page)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Error("failed to render page", "page", page, "error", err)
	}
}

// handleLoginPage renders the two-step login page. A caller with a
// valid session goes straight to the app.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(gate.SessionCookie); err == nil {
		if _, err := s.authority.Verify(r.Context(), cookie.Value); err == nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	s.render(w, "login.html", pageData{Title: "Sign in"})
}

func (s *Server) handleUnauthorizedPage(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusForbidden)
	s.render(w, "unauthorized.html", pageData{Title: "Not authorized"})
}

// renderMarkdown converts a note body to sanit-friendly HTML. Goldmark
// escapes raw HTML by default, which is what a personal notebook wants.
func renderMarkdown(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
