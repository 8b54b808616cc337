package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"runtime"

	"github.com/go-chi/chi/v5"
)

var DefaultError = JsonError{
	Code: http.StatusInternalServerError,
	Err:  "internal server error",
}

// Router is a wrapper around chi.Router that provides error handling.
// Handlers return an error that gets mapped to an error response.
// Mappers can be registered for sentinel errors to provide custom
// responses; the match uses errors.Is so wrapped errors map too.
type Router struct {
	chi.Router
	errorMappers []errorMapping
	defaultError JsonError
	logger       *slog.Logger
}

type errorMapping struct {
	target error
	fn     ErrorMapper
}

func New(opts ...RouterOption) *Router {
	return wrap(chi.NewRouter(), opts...)
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

func wrap(chiRouter chi.Router, opts ...RouterOption) *Router {
	router := &Router{
		Router:       chiRouter,
		defaultError: DefaultError,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	for _, opt := range opts {
		opt(router)
	}
	return router
}

// HandlerFunc is a function that handles an HTTP request and returns an
// error. A failing handler should not write to the response writer;
// the returned error is mapped to an error response instead.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// ErrorMapper maps a go error to an API error.
type ErrorMapper func(error) Error

func (a *Router) RegisterErrorMapper(target error, fn ErrorMapper) {
	a.errorMappers = append(a.errorMappers, errorMapping{target: target, fn: fn})
}

// mapError maps a go error to an API error:
//   - an error that already is an Error is returned as is.
//   - otherwise the first registered mapper whose target matches wins.
//   - with no matching mapper the default error is returned.
func (a *Router) mapError(err error) Error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, m := range a.errorMappers {
		if errors.Is(err, m.target) {
			return m.fn(err)
		}
	}
	return a.defaultError
}

func (a *Router) handleWithErr(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err != nil {
			handlerFn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
			a.logger.Error(err.Error(), slog.String("handler", handlerFn.Name()))
			resError := a.mapError(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resError.StatusCode())
			if err := json.NewEncoder(w).Encode(resError); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
	}
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.handleWithErr(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.handleWithErr(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.handleWithErr(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.handleWithErr(h))
}

func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		sub := wrap(r)
		sub.errorMappers = a.errorMappers
		sub.defaultError = a.defaultError
		sub.logger = a.logger
		f(sub)
	})
}

func (a *Router) Group(f func(r *Router)) {
	a.Router.Group(func(r chi.Router) {
		sub := wrap(r)
		sub.errorMappers = a.errorMappers
		sub.defaultError = a.defaultError
		sub.logger = a.logger
		f(sub)
	})
}

func (a *Router) With(middleware func(http.Handler) http.Handler) *Router {
	sub := wrap(a.Router.With(middleware))
	sub.errorMappers = a.errorMappers
	sub.defaultError = a.defaultError
	sub.logger = a.logger
	return sub
}
