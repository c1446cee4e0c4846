package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/victorjacobs/go-vallox/bridge"
	"github.com/victorjacobs/go-vallox/state"
	"github.com/victorjacobs/go-vallox/vallox"
)

type entityResponse struct {
	ID      string    `json:"id"`
	Value   string    `json:"value"`
	Raw     byte      `json:"raw"`
	Stale   bool      `json:"stale"`
	Suspect bool      `json:"suspect,omitempty"`
	Updated time.Time `json:"updated"`
}

type stateResponse struct {
	Entities      []entityResponse `json:"entities"`
	Stale         int              `json:"stale"`
	LastRefreshed time.Time        `json:"last_refreshed"`
}

func toResponse(registry *vallox.Registry, e state.Entry) entityResponse {
	r := entityResponse{
		ID:      e.ID,
		Value:   e.Value.String(),
		Raw:     e.Raw,
		Stale:   e.Stale,
		Suspect: e.Value.Suspect,
		Updated: e.Updated,
	}
	if v, ok := registry.Lookup(e.ID); ok {
		r.Value = bridge.FormatValue(v, e.Value)
	}
	return r
}

// State serves a snapshot of every known value.
func State(store *state.Store, registry *vallox.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		resp := stateResponse{Entities: []entityResponse{}}

		for _, e := range store.Snapshot() {
			resp.Entities = append(resp.Entities, toResponse(registry, e))
			if e.Stale {
				resp.Stale++
			}
			if e.Updated.After(resp.LastRefreshed) {
				resp.LastRefreshed = e.Updated
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// Entity serves one value by id.
func Entity(store *state.Store, registry *vallox.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")
		if _, ok := registry.Lookup(id); !ok {
			http.Error(w, "unknown entity", http.StatusNotFound)
			return
		}

		e, ok := store.Read(id)
		if !ok {
			http.Error(w, "not read yet", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, toResponse(registry, e))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	marshaled, err := json.Marshal(v)
	if err != nil {
		log.Errorf("error marshaling: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(marshaled)
}
