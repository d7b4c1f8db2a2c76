// ABOUTME: Note CRUD handlers: list, create, view, edit, delete
// ABOUTME: Every query is scoped to the signed-in user

package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fernwood/notegate/internal/store"
)

const noteListLimit = 200

func (s *Server) handleNotesList(w http.ResponseWriter, r *http.Request, user *store.User) {
	notes, err := s.store.ListNotes(r.Context(), user.ID, noteListLimit)
	if err != nil {
		s.logger.Error("failed to list notes", "error", err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	s.render(w, "notes.html", notesData{Title: "Notes", Notes: notes})
}

func (s *Server) handleNoteNew(w http.ResponseWriter, _ *http.Request, _ *store.User) {
	s.render(w, "note_edit.html", noteEditData{Title: "New note", Action: "/notes/new"})
}

func (s *Server) handleNoteCreate(w http.ResponseWriter, r *http.Request, user *store.User) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	note := &store.Note{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Title:     strings.TrimSpace(r.FormValue("title")),
		Body:      r.FormValue("body"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNote(r.Context(), note); err != nil {
		s.logger.Error("failed to create note", "error", err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/notes/"+note.ID, http.StatusSeeOther)
}

func (s *Server) handleNoteView(w http.ResponseWriter, r *http.Request, user *store.User) {
	note, err := s.loadNote(w, r, user)
	if err != nil {
		return
	}

	rendered, err := renderMarkdown(note.Body)
	if err != nil {
		s.logger.Error("failed to render note", "note_id", note.ID, "error", err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	s.render(w, "note.html", noteData{Title: note.Title, Note: note, Rendered: rendered})
}

func (s *Server) handleNoteEdit(w http.ResponseWriter, r *http.Request, user *store.User) {
	note, err := s.loadNote(w, r, user)
	if err != nil {
		return
	}
	s.render(w, "note_edit.html", noteEditData{
		Title:  "Edit note",
		Note:   note,
		Action: "/notes/" + note.ID + "/edit",
	})
}

func (s *Server) handleNoteUpdate(w http.ResponseWriter, r *http.Request, user *store.User) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	title := strings.TrimSpace(r.FormValue("title"))
	if err := s.store.UpdateNote(r.Context(), user.ID, id, title, r.FormValue("body")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("failed to update note", "note_id", id, "error", err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/notes/"+id, http.StatusSeeOther)
}

func (s *Server) handleNoteDelete(w http.ResponseWriter, r *http.Request, user *store.User) {
	id := r.PathValue("id")
	if err := s.store.DeleteNote(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("failed to delete note", "note_id", id, "error", err)
		http.Error(w, "Something went wrong", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/notes", http.StatusSeeOther)
}

// loadNote fetches the path's note for this user, writing the error
// response itself on failure.
func (s *Server) loadNote(w http.ResponseWriter, r *http.Request, user *store.User) (*store.Note, error) {
	id := r.PathValue("id")
	note, err := s.store.GetNote(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
		} else {
			s.logger.Error("failed to load note", "note_id", id, "error", err)
			http.Error(w, "Something went wrong", http.StatusInternalServerError)
		}
		return nil, err
	}
	return note, nil
}
