package handlers

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requestLanguage picks the response language from Accept-Language. Only the
// primary subtag matters; anything unrecognized falls back in the localizer.
func requestLanguage(r *http.Request) string {
	accept := r.Header.Get("Accept-Language")
	if accept == "" {
		return ""
	}
	lang := accept
	for _, sep := range []byte{',', ';', '-'} {
		for i := 0; i < len(lang); i++ {
			if lang[i] == sep {
				lang = lang[:i]
				break
			}
		}
	}
	return lang
}
