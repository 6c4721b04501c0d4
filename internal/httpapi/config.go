package httpapi

import "time"

// maxBodyBytes caps the size of a chat completion request body.
var maxBodyBytes int64 = 4 << 20

// SetMaxBodyBytes sets the request body limit. Non-positive restores 4 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 4 << 20
		return
	}
	maxBodyBytes = n
}

// chatTimeout bounds one completion request. Zero means no limit beyond the
// connection's.
var chatTimeout time.Duration

// SetChatTimeout sets the completion timeout (0 disables).
func SetChatTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	chatTimeout = d
}

// Allowed CORS values used when a server is started with CORS on.
var (
	corsAllowedOrigins = []string{"*"}
	corsAllowedMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowedHeaders = []string{"Authorization", "Content-Type", "X-Log-Level"}
)

// SetCORSOptions overrides the CORS allow lists. Empty lists keep the defaults.
func SetCORSOptions(origins, methods, headers []string) {
	if len(origins) > 0 {
		corsAllowedOrigins = append([]string(nil), origins...)
	}
	if len(methods) > 0 {
		corsAllowedMethods = append([]string(nil), methods...)
	}
	if len(headers) > 0 {
		corsAllowedHeaders = append([]string(nil), headers...)
	}
}
