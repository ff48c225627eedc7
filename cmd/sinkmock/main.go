// Standalone webhook receiver for manual testing. Point the service's
// notify.webhook_url at it and watch broadcast lifecycle events arrive.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"
)

type BroadcastEvent struct {
	Type        string    `json:"type"`
	BroadcastID string    `json:"broadcast_id"`
	State       string    `json:"state"`
	Name        string    `json:"name"`
	Public      bool      `json:"public"`
	Encrypted   bool      `json:"encrypted"`
	Timestamp   time.Time `json:"timestamp"`
}

func eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event BroadcastEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Error parsing event", http.StatusBadRequest)
		return
	}

	log.Printf("📻 BROADCAST EVENT RECEIVED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("    Type: %s", event.Type)
	log.Printf("    Broadcast ID: %s", event.BroadcastID)
	if event.State != "" {
		log.Printf("    State: %s", event.State)
	}
	if event.Name != "" {
		log.Printf("    Name: %s", event.Name)
	}
	log.Printf("    Public: %t", event.Public)
	log.Printf("    Encrypted: %t", event.Encrypted)
	log.Printf("    Timestamp: %s", event.Timestamp.Format(time.RFC3339))
	log.Println("---")

	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	flag.Parse()

	http.HandleFunc("/events", eventHandler)

	log.Printf("🚀 Broadcast event sink starting on %s", *addr)
	log.Printf("📡 Endpoint: http://localhost%s/events", *addr)
	log.Println("💡 Update your config to use: webhook_url: http://localhost:9000/events")

	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
