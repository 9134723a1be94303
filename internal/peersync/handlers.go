package peersync

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// Routes returns the three peer-sync endpoints of spec §4.7, ready to
// mount on any http.ServeMux. Left as a standalone mount point (rather than
// baked into internal/transport.Server) so a broker can run without
// peer-sync configured at all.
func (m *Manager) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sync/index", m.handleIndex)
	mux.HandleFunc("GET /sync/sessions/{id}", m.handleDownload)
	mux.HandleFunc("POST /sync/sessions", m.handleUpload)
}

func (m *Manager) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := m.BuildIndex(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (m *Manager) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, types.NewKindError(types.KindBadInput, "missing session id"))
		return
	}
	archive, err := m.Download(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, archive)
}

func (m *Manager) handleUpload(w http.ResponseWriter, r *http.Request) {
	var archive types.SessionArchive
	if err := json.NewDecoder(r.Body).Decode(&archive); err != nil {
		writeJSONError(w, http.StatusBadRequest, types.NewKindError(types.KindBadInput, "malformed session archive"))
		return
	}
	if err := m.Upload(r.Context(), archive); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "checksum") {
			status = http.StatusUnprocessableEntity
		}
		writeJSONError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
