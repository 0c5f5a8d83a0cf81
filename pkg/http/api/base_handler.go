package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	HeaderContentType = "Content-Type"

	MimeTypeJSON = "application/json; charset=utf-8"
)

// Error is rendered as {"error":{"message":...}} with HTTPCode as the response status.
type Error struct {
	HTTPCode int    `json:"-"`
	Message  string `json:"message"`
}

type BaseHandler struct {
}

func (h *BaseHandler) WriteJSON(res http.ResponseWriter, data interface{}, statusCode int) {
	b, err := json.Marshal(data)
	if err != nil {
		slog.Error("Error while writing JSON", slog.String("err", err.Error()))
		h.SendInternalServerError(res)
		return
	}

	res.Header().Set(HeaderContentType, MimeTypeJSON)
	res.WriteHeader(statusCode)
	_, _ = res.Write(append(b, '\n'))
}

func (h *BaseHandler) WriteJSONError(res http.ResponseWriter, err Error) {
	data := struct {
		Err Error `json:"error"`
	}{err}

	h.WriteJSON(res, data, err.HTTPCode)
}

func (h *BaseHandler) SendInternalServerError(res http.ResponseWriter) {
	http.Error(res, "Internal Server Error", http.StatusInternalServerError)
}
