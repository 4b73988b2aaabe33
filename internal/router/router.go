package router

import (
	"net/http"

	"github.com/gospodapp/backend/internal/handlers"
)

// Middleware matches the chain shape used throughout the API.
type Middleware func(http.Handler) http.Handler

// New returns the API handler tree under /api/v1.
// apiAuth guards the mutating endpoints; signed guards the usage query.
func New(
	chat *handlers.ChatHandler,
	usage *handlers.UsageHandler,
	device *handlers.DeviceHandler,
	apiAuth Middleware,
	signed Middleware,
) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.Handle("POST "+base+"/chat/text", apiAuth(http.HandlerFunc(chat.ProcessText)))
	mux.Handle("POST "+base+"/chat/image", apiAuth(http.HandlerFunc(chat.ProcessImage)))
	mux.Handle("GET "+base+"/usage", signed(http.HandlerFunc(usage.GetUsage)))
	mux.Handle("POST "+base+"/referral", apiAuth(http.HandlerFunc(device.RegisterReferral)))
	mux.Handle("POST "+base+"/device/delete", apiAuth(http.HandlerFunc(device.RequestDelete)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message":"GospodApp API Server is running!"}`))
	})

	return mux
}
