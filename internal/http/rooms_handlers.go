package httpx

import (
	"net/http"
	"sort"

	"github.com/philipyoungg/ws-pubsub/internal/ws"
)

type RoomsAPI struct{ Hub *ws.Hub }

type roomResponse struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type statsResponse struct {
	Rooms     int    `json:"rooms"`
	Clients   int    `json:"clients"`
	Namespace string `json:"namespace"`
	Backplane string `json:"backplane"`
}

// Stats returns local room/connection counts and backplane state
func (a *RoomsAPI) Stats(w http.ResponseWriter, r *http.Request) {
	rooms, clients := a.Hub.Stats()
	backplane := "up"
	if !a.Hub.Relay().Healthy() {
		backplane = "down"
	}
	writeJSON(w, statsResponse{
		Rooms:     rooms,
		Clients:   clients,
		Namespace: a.Hub.Relay().Namespace(),
		Backplane: backplane,
	})
}

// List returns the rooms with local members, sorted by key
func (a *RoomsAPI) List(w http.ResponseWriter, r *http.Request) {
	counts := a.Hub.Registry().Rooms()

	resp := make([]roomResponse, 0, len(counts))
	for room, n := range counts {
		resp = append(resp, roomResponse{Room: room, Members: n})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Room < resp[j].Room })

	writeJSON(w, resp)
}
