package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"quadtree-index/database"
	"quadtree-index/models"
	"quadtree-index/placement"
	"quadtree-index/quadtree"
)

// Handler serves the index over HTTP.
type Handler struct {
	svc *placement.Service
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreatePoint stores a point and indexes it.
func (h *Handler) CreatePoint(w http.ResponseWriter, r *http.Request) {
	var rec models.PointRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	err := h.svc.Place(r.Context(), &rec)
	switch {
	case err == nil:
	case errors.Is(err, quadtree.ErrOutOfBounds):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, models.ErrNoPosition),
		errors.Is(err, models.ErrUnknownKind),
		errors.Is(err, models.ErrBadValue):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		http.Error(w, "Failed to index point", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"message": "Point indexed",
		"point":   rec,
		"stats":   h.svc.Stats(),
	}
	writeJSON(w, http.StatusCreated, response)
}

// GetPoint handles fetching a stored point by ID.
func (h *Handler) GetPoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pointID, err := strconv.ParseInt(vars["point_id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid point ID", http.StatusBadRequest)
		return
	}

	rec, err := h.svc.Get(r.Context(), pointID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Point not found", http.StatusNotFound)
		} else {
			http.Error(w, "Database error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetTree writes the tree dump as plain text.
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	tree, _, err := h.svc.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "Failed to render tree", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tree))
}

// GetStats reports the live shape of the tree.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// GetAudit cross-checks every item against its leaf.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Audit()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     report.OK(),
		"report": report,
	})
}

// GetCell lists the IDs of the points held by one leaf.
func (h *Handler) GetCell(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["cell_key"]
	ids, err := h.svc.Cell(r.Context(), key)
	if err != nil {
		if errors.Is(err, quadtree.ErrMalformedKey) {
			http.Error(w, "Invalid cell key", http.StatusBadRequest)
		} else {
			http.Error(w, "Failed to load cell", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cell":   key,
		"points": ids,
	})
}
