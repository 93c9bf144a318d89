package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/evgeny-myasishchev/ledger.allowances/pkg/lib-core-golang/diag"
)

var logger = diag.CreateLogger()

// ResponseDecorator is a helper function to decorate response
type ResponseDecorator func(w http.ResponseWriter) error

// HandlerToolkit - collection of tools to help processing request and build a response
type HandlerToolkit interface {
	BindPayload(receiver interface{}) error

	// WriteJSON will serialize the payload and write it to the response
	// Optionally use decorators, for example WithStatus
	WriteJSON(payload interface{}, decorators ...ResponseDecorator) error

	// WithStatus is a decorator function that will set particular http status
	// used together with WriteJSON
	WithStatus(status int) ResponseDecorator
}

type handlerToolkit struct {
	request        *http.Request
	responseWriter http.ResponseWriter
}

func (h *handlerToolkit) BindPayload(receiver interface{}) error {
	if err := json.NewDecoder(h.request.Body).Decode(receiver); err != nil {
		return BadRequestError("Failed to parse request payload")
	}
	return nil
}

func (h *handlerToolkit) WriteJSON(payload interface{}, decorators ...ResponseDecorator) error {
	// This should go first. If we use WithStatus decorator then it will send the header
	// and adding new headers will make no difference
	h.responseWriter.Header().Add("content-type", "application/json")

	for _, decorator := range decorators {
		if err := decorator(h.responseWriter); err != nil {
			return err
		}
	}
	return json.NewEncoder(h.responseWriter).Encode(payload)
}

func (h *handlerToolkit) WithStatus(status int) ResponseDecorator {
	return func(w http.ResponseWriter) error {
		w.WriteHeader(status)
		return nil
	}
}

// ToolkitHandlerFunc - a little extension of a builtin HandlerFunc
type ToolkitHandlerFunc func(w http.ResponseWriter, req *http.Request, h HandlerToolkit) error

// ServeHTTP is an implementation of http.Handler. This allows ToolkitHandlerFunc to be used
// in place of the http.Handler
func (f ToolkitHandlerFunc) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	toolkit := handlerToolkit{
		request:        req,
		responseWriter: w,
	}
	if err := f(w, req, &toolkit); err != nil {
		logger.WithError(err).Error(req.Context(), "Failed to process request")
		errorResponse := newHTTPErrorFromError(err)
		errorResponse.Send(w)
	}
}

// MiddlewareFunc is a function that can be injected into a request chain
type MiddlewareFunc func(next http.Handler) http.Handler

// Router is a layer to abstract underlying http router implementation
// so we could swap it with relatively low efforts
type Router interface {
	Handle(method string, pattern string, handler http.Handler)

	Use(mw MiddlewareFunc)

	ServeHTTP(http.ResponseWriter, *http.Request)
}

// CreateRouter returns default router implementation
func CreateRouter() Router {
	return createGojiRouter()
}

// StartServer start the server with setup router function
func StartServer(port int, setup func(r Router)) error {
	router := CreateRouter()
	setup(router)
	return http.ListenAndServe(fmt.Sprintf(":%v", port), router)
}
