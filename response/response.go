package response

import (
	"encoding/json"
	"net/http"
)

type body struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will serialize the result into the response envelope with status 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will serialize the given *Error with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	messages := e.Messages
	if e.Message != "" {
		messages = append([]string{e.Message}, messages...)
	}
	json.NewEncoder(w).Encode(body{
		Result:   e.Result,
		Messages: messages,
	})
}
