package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"newsrelay/internal/fingerprint"
	"newsrelay/internal/model"
)

type itemView struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	SourceURL      string     `json:"source_url"`
	TitleOriginal  string     `json:"title_original,omitempty"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	Error          string     `json:"error,omitempty"`
	TitleRewritten string     `json:"title_rewritten,omitempty"`
	Excerpt        string     `json:"excerpt,omitempty"`
	PostID         string     `json:"post_id,omitempty"`
	PublishedURL   string     `json:"published_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
}

type logView struct {
	RunID     string    `json:"run_id"`
	Step      string    `json:"step"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newItemView(it *model.Item) itemView {
	return itemView{
		ID:             it.ID,
		TenantID:       it.TenantID,
		SourceURL:      it.SourceURL,
		TitleOriginal:  it.TitleOriginal,
		Status:         string(it.Status),
		RetryCount:     it.RetryCount,
		Error:          it.ErrorMessage,
		TitleRewritten: it.TitleRewritten,
		Excerpt:        it.Excerpt,
		PostID:         it.PostID,
		PublishedURL:   it.PublishedURL,
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
		PublishedAt:    it.PublishedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context(), 0)
	if err != nil {
		s.storeError(w, err)
		return
	}
	tenants, err := s.store.ListActiveTenants(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	byStatus := make(map[string]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		byStatus[string(st)] = 0
	}
	for _, c := range counts {
		byStatus[string(c.Status)] = c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_tenants": len(tenants),
		"items":          byStatus,
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	entries, err := s.store.ListLog(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	logs := make([]logView, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, logView{
			RunID:     e.RunID,
			Step:      e.Step,
			Outcome:   string(e.Outcome),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item": newItemView(item),
		"log":  logs,
	})
}

// handleProcess is the webhook trigger. It only queues the item; the worker
// claims it, so triggering a non-PENDING item is a harmless no-op.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !s.queue.Submit(r.Context(), id) {
		writeError(w, http.StatusServiceUnavailable, "queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": string(item.Status)})
}

type admitRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	tenant, err := s.store.GetTenantBySlug(r.Context(), slug)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !tenant.IsActive {
		writeError(w, http.StatusConflict, "tenant is inactive")
		return
	}

	var req admitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := fingerprint.NormalizeURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, created, err := s.dedup.Admit(r.Context(), *tenant, req.URL, req.Title)
	if err != nil {
		s.storeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.queue.Submit(r.Context(), item.ID)
	}
	writeJSON(w, status, newItemView(item))
}

func (s *Server) handleRemoveTenant(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if err := s.registry.Remove(r.Context(), slug); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
