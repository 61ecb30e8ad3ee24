package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/wallvault/wallvault/internal/logger"
)

// problemTypeBase prefixes every problem code to form the type URI.
const problemTypeBase = "https://wallvault.dev/problems/"

// Problem is an RFC 7807 response body. Extensions are flattened into the
// top-level JSON object next to the standard members.
type Problem struct {
	Code       string
	Title      string
	Status     int
	Detail     string
	Instance   string
	Extensions map[string]any
}

func (p Problem) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, 5+len(p.Extensions))
	for k, v := range p.Extensions {
		body[k] = v
	}
	// Standard members win over extension collisions.
	body["type"] = problemTypeBase + p.Code
	body["title"] = p.Title
	body["status"] = p.Status
	if p.Detail != "" {
		body["detail"] = p.Detail
	}
	if p.Instance != "" {
		body["instance"] = p.Instance
	}
	return json.Marshal(body)
}

// problemTitles maps machine codes to their human titles.
var problemTitles = map[string]string{
	"missing-user-id":          "Missing User ID",
	"missing-file":             "Missing File",
	"invalid-file-format":      "Invalid File Format",
	"file-too-large":           "File Too Large",
	"dimensions-out-of-bounds": "Dimensions Out Of Bounds",
	"unreadable-image":         "Unreadable Image",
	"invalid-multipart":        "Invalid Multipart Body",
	"rate-limit-exceeded":      "Rate Limit Exceeded",
	"wallpaper-not-found":      "Wallpaper Not Found",
	"upload-failed":            "Upload Failed",
	"service-unavailable":      "Service Unavailable",
}

func titleFor(code string) string {
	if t, ok := problemTitles[code]; ok {
		return t
	}
	return "Request Failed"
}

// writeProblem renders an RFC 7807 problem with the request path as the
// instance.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, extensions map[string]any) {
	p := Problem{
		Code:       code,
		Title:      titleFor(code),
		Status:     status,
		Detail:     detail,
		Instance:   r.URL.Path,
		Extensions: extensions,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		logger.Error("Failed to encode problem response", "error", err)
	}
}

// writeJSON renders a success payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
