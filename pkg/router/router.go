package router

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/niels/staticserve/pkg/assets"
	"github.com/rs/zerolog"
)

// Rule names, also used as metric labels
const (
	RuleIndex    = "index"
	RuleStatic   = "static"
	RuleNotFound = "not_found"
)

// Match selects how a rule compares the request path
type Match int

const (
	// MatchExact matches the path exactly
	MatchExact Match = iota
	// MatchPrefix matches any path starting with the pattern
	MatchPrefix
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

// Action selects what a matched rule serves
type Action int

const (
	// ActionServeFile serves one fixed file
	ActionServeFile Action = iota
	// ActionServeDir serves files looked up under a directory
	ActionServeDir
)

func (a Action) String() string {
	switch a {
	case ActionServeFile:
		return "file"
	case ActionServeDir:
		return "directory"
	default:
		return "unknown"
	}
}

// Rule maps a path matcher to what gets served
type Rule struct {
	Name    string
	Match   Match
	Pattern string
	Action  Action
	Target  string
}

// InstrumentFunc wraps the handler of a rule, e.g. to record metrics
type InstrumentFunc func(rule string, next http.Handler) http.Handler

// Options configures a Router
type Options struct {
	StaticDir  string
	IndexPath  string
	Logger     zerolog.Logger
	Instrument InstrumentFunc
}

// Router dispatches requests to the index document, the asset directory, or 404.
// It holds no mutable state after New returns.
type Router struct {
	rules     []Rule
	store     *assets.Store
	indexPath string
	logger    zerolog.Logger
	mux       *mux.Router
}

// New builds the router. It does not touch the filesystem.
func New(opts Options) *Router {
	instrument := opts.Instrument
	if instrument == nil {
		instrument = func(_ string, next http.Handler) http.Handler { return next }
	}

	r := &Router{
		rules: []Rule{
			{Name: RuleIndex, Match: MatchExact, Pattern: "/", Action: ActionServeFile, Target: opts.IndexPath},
			{Name: RuleStatic, Match: MatchPrefix, Pattern: "/", Action: ActionServeDir, Target: opts.StaticDir},
		},
		store:     assets.NewStore(opts.StaticDir),
		indexPath: opts.IndexPath,
		logger:    opts.Logger,
	}

	m := mux.NewRouter()
	for _, rule := range r.rules {
		var route *mux.Route
		switch rule.Match {
		case MatchExact:
			route = m.Path(rule.Pattern)
		case MatchPrefix:
			route = m.PathPrefix(rule.Pattern)
		}
		route.Methods(http.MethodGet, http.MethodHead).
			Name(rule.Name).
			Handler(instrument(rule.Name, r.handlerFor(rule)))
	}

	notFound := instrument(RuleNotFound, http.HandlerFunc(r.notFound))
	m.NotFoundHandler = notFound
	// Unsupported methods fall through to 404 rather than 405
	m.MethodNotAllowedHandler = notFound

	r.mux = m
	return r
}

// Rules returns the route rules in priority order
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handlerFor(rule Rule) http.Handler {
	switch rule.Action {
	case ActionServeFile:
		return http.HandlerFunc(r.serveIndex)
	default:
		return http.HandlerFunc(r.serveAsset)
	}
}

// serveIndex reads the index document on every request so edits show up
// without a restart.
func (r *Router) serveIndex(w http.ResponseWriter, req *http.Request) {
	data, err := assets.ReadFile(r.indexPath)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("index", r.indexPath).
			Msg("Failed to read index document")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", assets.ContentType(".html"))
	http.ServeContent(w, req, "index.html", time.Time{}, bytes.NewReader(data))
}

func (r *Router) serveAsset(w http.ResponseWriter, req *http.Request) {
	asset, err := r.store.Open(req.URL.Path)
	if err != nil {
		if errors.Is(err, assets.ErrNotFound) ||
			errors.Is(err, assets.ErrDotfile) ||
			errors.Is(err, assets.ErrNotRegular) {
			r.logger.Debug().Err(err).Str("path", req.URL.Path).Msg("Asset not found")
			r.notFound(w, req)
			return
		}
		r.logger.Error().Err(err).Str("path", req.URL.Path).Msg("Failed to open asset")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer asset.Close()

	if asset.DirIndex && !strings.HasSuffix(req.URL.Path, "/") {
		target := req.URL.EscapedPath() + "/"
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(w, req, target, http.StatusMovedPermanently)
		return
	}

	w.Header().Set("Content-Type", asset.ContentType)
	http.ServeContent(w, req, asset.Name, asset.ModTime, asset)
}

func (r *Router) notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}
