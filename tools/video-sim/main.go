// video-sim is a stand-in for the video conferencing provider in local
// development. It serves the two endpoints booking-service calls: session
// creation and token minting.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		addr   = flag.String("addr", getenv("ADDR", ":9090"), "listen address")
		apiKey = flag.String("api-key", getenv("VIDEO_API_KEY", "dev-key"), "expected bearer key")
		delay  = flag.Duration("delay", 0, "artificial response delay")
	)
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, *apiKey) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		time.Sleep(*delay)
		sessionID := "sim-" + uuid.NewString()
		log.Printf("session created id=%s", sessionID)
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
	})
	mux.HandleFunc("/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, *apiKey) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/tokens") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/tokens")
		if sessionID == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		time.Sleep(*delay)
		token := fmt.Sprintf("simtok-%s-%d", sessionID, time.Now().UnixNano())
		writeJSON(w, http.StatusCreated, map[string]string{"token": token})
	})

	log.Printf("video-sim listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}

func authorized(r *http.Request, key string) bool {
	return r.Header.Get("Authorization") == "Bearer "+key
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
