// Package response writes the JSON envelope every API endpoint shares:
// {"success":true,"data":...} on success and
// {"success":false,"error":CODE,"message":...} on failure.
package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON writes an arbitrary payload with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Success writes a 200 envelope around data.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Created writes a 201 envelope around data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

// Error writes a failure envelope with a machine-readable code and a
// human-readable message.
func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, envelope{Success: false, Code: code, Message: message})
}
