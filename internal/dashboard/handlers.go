package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stellarlinkco/may/internal/learning"
	"github.com/stellarlinkco/may/internal/memory"
)

const (
	defaultKnowledgeLimit = 20
	defaultMemoryLimit    = 10
	maxListLimit          = 200
)

type pageData struct {
	Status    learning.Status
	Knowledge []memory.KnowledgeItem
	Sessions  []memory.LearningSession
	Sources   []memory.TrustedSource
	Turns     []memory.Turn
	Profile   *memory.Profile
	Stats     memory.Stats
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data := pageData{Status: s.learner.Status()}

	var err error
	if data.Knowledge, err = s.store.KnowledgeOnTopic(ctx, "", 10); err != nil {
		s.internalError(w, "load knowledge", err)
		return
	}
	if data.Sessions, err = s.store.RecentLearningSessions(ctx, 5); err != nil {
		s.internalError(w, "load learning sessions", err)
		return
	}
	if data.Sources, err = s.store.ActiveSources(ctx); err != nil {
		s.internalError(w, "load sources", err)
		return
	}
	if data.Stats, err = s.store.Stats(ctx); err != nil {
		s.internalError(w, "load stats", err)
		return
	}
	if s.chat != nil {
		if data.Turns, err = s.chat.RecentTurns(ctx, "", 10); err != nil {
			s.internalError(w, "load turns", err)
			return
		}
		if p, ok := s.chat.Profile(); ok {
			data.Profile = &p
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		log.Printf("[dashboard] render page: %v", err)
	}
}

func (s *Server) handleLearningStatus(w http.ResponseWriter, r *http.Request) {
	st := s.learner.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"learning_active": st.Active,
		"topic":           st.Topic,
		"last_session":    st.Last,
		"timestamp":       s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleStartLearning(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.FormValue("topic"))
	if topic == "" {
		writeStatus(w, http.StatusBadRequest, "error", "topic is required")
		return
	}
	if err := s.learner.Start(learning.Request{Topic: topic}); err != nil {
		if errors.Is(err, learning.ErrAlreadyLearning) {
			writeStatus(w, http.StatusBadRequest, "error", "Learning session already active")
			return
		}
		s.internalError(w, "start learning", err)
		return
	}
	writeStatus(w, http.StatusOK, "success", fmt.Sprintf("May started learning about '%s'", topic))
}

func (s *Server) handleStopLearning(w http.ResponseWriter, r *http.Request) {
	if !s.learner.Stop() {
		writeStatus(w, http.StatusOK, "success", "No learning session was running")
		return
	}
	writeStatus(w, http.StatusOK, "success", "Learning stopped")
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultKnowledgeLimit)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	items, err := s.store.KnowledgeOnTopic(r.Context(), chi.URLParam(r, "topic"), limit)
	if err != nil {
		s.internalError(w, "load knowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleApproveKnowledge(w http.ResponseWriter, r *http.Request) {
	s.setKnowledgeStatus(w, r, memory.StatusValidated, "Knowledge approved")
}

func (s *Server) handleRejectKnowledge(w http.ResponseWriter, r *http.Request) {
	s.setKnowledgeStatus(w, r, memory.StatusRejected, "Knowledge rejected")
}

func (s *Server) setKnowledgeStatus(w http.ResponseWriter, r *http.Request, status, message string) {
	hash := strings.TrimSpace(r.FormValue("content_hash"))
	if hash == "" {
		writeStatus(w, http.StatusBadRequest, "error", "content_hash is required")
		return
	}
	if err := s.store.SetKnowledgeStatus(r.Context(), hash, status); err != nil {
		if memory.IsNotFound(err) {
			writeStatus(w, http.StatusNotFound, "error", "Knowledge not found")
			return
		}
		s.internalError(w, "set knowledge status", err)
		return
	}
	writeStatus(w, http.StatusOK, "success", message)
}

func (s *Server) handleAddTrustedSource(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.FormValue("domain"))
	trust, err := strconv.Atoi(strings.TrimSpace(r.FormValue("trust_level")))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", "trust_level must be a number")
		return
	}
	src := memory.TrustedSource{
		Domain:          domain,
		TopicCategories: strings.Split(r.FormValue("categories"), ","),
		TrustLevel:      trust,
	}
	if err := s.store.AddTrustedSource(r.Context(), src); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "success", "Added trusted source: "+strings.ToLower(domain))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeStatus(w, http.StatusServiceUnavailable, "error", "chat is not available")
		return
	}
	reply := s.chat.ProcessTurn(r.Context(), strings.TrimSpace(r.FormValue("message")))
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeStatus(w, http.StatusServiceUnavailable, "error", "chat is not available")
		return
	}
	limit, err := queryLimit(r, defaultMemoryLimit)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	turns, err := s.chat.RecentTurns(r.Context(), r.URL.Query().Get("topic"), limit)
	if err != nil {
		s.internalError(w, "load memories", err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeStatus(w, http.StatusServiceUnavailable, "error", "chat is not available")
		return
	}
	p, ok := s.chat.Profile()
	if !ok {
		writeStatus(w, http.StatusNotFound, "error", "No profile yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	log.Printf("[dashboard] %s: %v", what, err)
	writeStatus(w, http.StatusInternalServerError, "error", "internal server error")
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive number")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}

func writeStatus(w http.ResponseWriter, code int, status, message string) {
	writeJSON(w, code, map[string]string{"status": status, "message": message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[dashboard] encode response: %v", err)
	}
}
