package deck

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeDeck struct {
	remaining []string
	piles     map[string][]string
}

// fakeAPI is an in-memory stand-in for the deck-of-cards API.
type fakeAPI struct {
	mu    sync.Mutex
	decks map[string]*fakeDeck
	next  int
	calls atomic.Int32
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{decks: map[string]*fakeDeck{}}
	server := httptest.NewServer(http.StripPrefix("/api/deck", api))
	t.Cleanup(server.Close)

	return api, server
}

func fullDeck() []string {
	cards := []string{}
	for _, suit := range []string{"S", "D", "C", "H"} {
		for _, value := range []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "0", "J", "Q", "K"} {
			cards = append(cards, value+suit)
		}
	}
	return cards
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	query := r.URL.Query()

	if len(segments) == 2 && segments[0] == "new" && segments[1] == "shuffle" {
		count, err := strconv.Atoi(query.Get("deck_count"))
		if err != nil || count < 1 {
			count = 1
		}
		f.next++
		id := fmt.Sprintf("deck%d", f.next)
		deck := &fakeDeck{piles: map[string][]string{}}
		for i := 0; i < count; i++ {
			deck.remaining = append(deck.remaining, fullDeck()...)
		}
		f.decks[id] = deck
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deck_id": id, "shuffled": true, "remaining": len(deck.remaining)})
		return
	}

	deck, ok := f.decks[segments[0]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Deck ID does not exist."})
		return
	}

	switch {
	case len(segments) == 2 && segments[1] == "shuffle":
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deck_id": segments[0], "shuffled": true, "remaining": len(deck.remaining)})

	case len(segments) == 2 && segments[1] == "draw":
		count, err := strconv.Atoi(query.Get("count"))
		if err != nil {
			count = 1
		}
		if count > len(deck.remaining) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Not enough cards remaining"})
			return
		}
		drawn := deck.remaining[:count]
		deck.remaining = deck.remaining[count:]
		cards := []map[string]string{}
		for _, code := range drawn {
			cards = append(cards, map[string]string{"code": code})
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deck_id": segments[0], "cards": cards, "remaining": len(deck.remaining)})

	case len(segments) == 4 && segments[1] == "pile" && segments[3] == "add":
		name := segments[2]
		deck.piles[name] = append(deck.piles[name], strings.Split(query.Get("cards"), ",")...)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deck_id": segments[0], "piles": f.pileSummary(deck)})

	case len(segments) == 4 && segments[1] == "pile" && segments[3] == "shuffle":
		if _, ok := deck.piles[segments[2]]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Pile does not exist."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deck_id": segments[0], "piles": f.pileSummary(deck)})

	case len(segments) == 4 && segments[1] == "pile" && segments[3] == "list":
		pile, ok := deck.piles[segments[2]]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Pile does not exist."})
			return
		}
		cards := []map[string]string{}
		for _, code := range pile {
			cards = append(cards, map[string]string{"code": code})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"deck_id": segments[0],
			"piles":   map[string]any{segments[2]: map[string]any{"remaining": len(pile), "cards": cards}},
		})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) pileSummary(deck *fakeDeck) map[string]any {
	summary := map[string]any{}
	for name, cards := range deck.piles {
		summary[name] = map[string]int{"remaining": len(cards)}
	}
	return summary
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
