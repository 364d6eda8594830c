// Command mockapi serves a small locations API for exercising the sample
// scenarios locally.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type location struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type comment struct {
	ID         int    `json:"id"`
	LocationID int    `json:"location_id"`
	Text       string `json:"text"`
}

type server struct {
	latency   time.Duration
	failRate  float64
	malformed bool

	mu  sync.Mutex
	rnd *rand.Rand

	locations []location
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	latency := flag.Duration("latency", 50*time.Millisecond, "Latency added to every response")
	failRate := flag.Float64("fail-rate", 0, "Fraction of requests answered with 500")
	malformed := flag.Bool("malformed", false, "Serve an HTML maintenance page instead of the locations list")
	count := flag.Int("locations", 20, "Number of locations served")
	flag.Parse()

	s := &server{
		latency:   *latency,
		failRate:  *failRate,
		malformed: *malformed,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 1; i <= *count; i++ {
		s.locations = append(s.locations, location{ID: i, Name: fmt.Sprintf("Location %d", i)})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/locations/", s.handleLocations)
	mux.HandleFunc("/api/comments/", s.handleComments)

	logrus.WithFields(logrus.Fields{
		"addr":      *addr,
		"latency":   *latency,
		"fail_rate": *failRate,
		"malformed": *malformed,
	}).Info("mock API listening")
	srv := &http.Server{Addr: *addr, Handler: s.middleware(mux), ReadHeaderTimeout: 5 * time.Second}
	logrus.Fatal(srv.ListenAndServe())
}

func (s *server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if s.shouldFail() {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) shouldFail() bool {
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64() < s.failRate
}

// handleLocations serves /api/locations/, /api/locations/accessibility-items/
// and /api/locations/{id}.
func (s *server) handleLocations(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/locations/"), "/")
	switch {
	case rest == "":
		if s.malformed {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>Down for maintenance</body></html>")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"locations": s.locations})
	case rest == "accessibility-items":
		respondJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "name": "ramp"},
			{"id": 2, "name": "elevator"},
			{"id": 3, "name": "accessible restroom"},
		})
	default:
		id, err := strconv.Atoi(rest)
		if err != nil || id < 1 || id > len(s.locations) {
			respondJSON(w, http.StatusNotFound, map[string]any{"detail": "location not found"})
			return
		}
		respondJSON(w, http.StatusOK, s.locations[id-1])
	}
}

// handleComments serves /api/comments/recent, /api/comments/icons/ and
// /api/comments/{id}/comments.
func (s *server) handleComments(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/comments/"), "/")
	switch {
	case rest == "recent":
		respondJSON(w, http.StatusOK, []comment{{ID: 1, LocationID: 1, Text: "Great access"}})
	case rest == "icons":
		respondJSON(w, http.StatusOK, []map[string]any{{"id": 1, "icon": "thumbs-up"}})
	case strings.HasSuffix(rest, "/comments"):
		id, err := strconv.Atoi(strings.TrimSuffix(rest, "/comments"))
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]any{"detail": "location not found"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"comments": []comment{{ID: id * 10, LocationID: id, Text: "Accessible entrance"}},
		})
	default:
		http.NotFound(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
