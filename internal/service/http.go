package service

import (
	"encoding/json"
	"net/http"

	"github.com/taskmesh/taskmesh/internal/broker"
	"github.com/taskmesh/taskmesh/internal/messages"
)

// httpProcessMessage adapts a ConsumerHandler into the /process_message
// HTTP endpoint remote consumers are delivered to, mirroring
// RemoteMessageConsumer's POST-to-url shape from the original.
func httpProcessMessage(handler broker.ConsumerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg messages.QueueMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := handler(r.Context(), msg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
