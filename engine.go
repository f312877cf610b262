package taskworker

import (
	"log"

	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/handler"
	"github.com/cryguy/taskworker/internal/host"
	"github.com/cryguy/taskworker/internal/host/wsock"
	"github.com/cryguy/taskworker/internal/jsworker"
	"github.com/cryguy/taskworker/internal/services/parser"
	"github.com/cryguy/taskworker/internal/services/prettyprint"
	"github.com/cryguy/taskworker/internal/services/search"
	"github.com/cryguy/taskworker/internal/services/sourcemap"
)

// Engine owns the hosts workers run on. Built-in workers run in process,
// urls naming a .js file start a script worker, and ws:// or wss:// urls
// reach a remote worker host.
type Engine struct {
	config Config
	logger *log.Logger
	local  *host.Local
	router *host.Router
}

// NewEngine creates an Engine with the built-in workers registered. A nil
// logger means log.Default().
func NewEngine(cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.WithDefaults()

	local := host.NewLocal(
		host.WithLogger(logger),
		host.WithLoader(jsworker.Loader(jsworker.OptionsFrom(cfg, logger))),
	)
	RegisterBuiltins(local, cfg, logger)

	router := host.NewRouter(local)
	dialer := wsock.NewDialer(wsock.OptionsFrom(cfg), logger)
	router.Handle("ws", dialer)
	router.Handle("wss", dialer)

	return &Engine{config: cfg, logger: logger, local: local, router: router}
}

// RegisterBuiltins registers the parser, pretty-print, search and
// source-map workers on h.
func RegisterBuiltins(h *host.Local, cfg Config, logger *log.Logger) {
	hopts := []handler.Option{handler.WithLogger(logger), handler.WithTimeout(cfg.StreamTimeout)}
	h.Register(parser.WorkerFileName, parser.Main(hopts...))
	h.Register(prettyprint.WorkerFileName, prettyprint.Main(hopts...))
	h.Register(search.WorkerFileName, search.Main(hopts...))
	h.Register(sourcemap.WorkerFileName, sourcemap.Main(cfg.SourceMapDSN, []sourcemap.Option{sourcemap.WithLogger(logger)}, hopts...))
}

// Spawn implements core.Host.
func (e *Engine) Spawn(url string) (core.Port, error) {
	return e.router.Spawn(url)
}

// Register adds a worker entry point under name.
func (e *Engine) Register(name string, main core.WorkerMain) {
	e.local.Register(name, main)
}

// Workers returns the in-process host, without the remote routes. A
// worker server should serve this host so requests are not forwarded in
// a loop.
func (e *Engine) Workers() core.Host { return e.local }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

func (e *Engine) clientOptions(opts []ClientOption) []ClientOption {
	return append([]ClientOption{WithClientLogger(e.logger)}, opts...)
}

// Parser returns a new parser worker client.
func (e *Engine) Parser(opts ...ClientOption) *ParserWorker {
	return NewParserWorker(e.config, e, e.clientOptions(opts)...)
}

// PrettyPrinter returns a new pretty-print worker client.
func (e *Engine) PrettyPrinter(opts ...ClientOption) *PrettyPrintWorker {
	return NewPrettyPrintWorker(e.config, e, e.clientOptions(opts)...)
}

// Search returns a new search worker client.
func (e *Engine) Search(opts ...ClientOption) *SearchWorker {
	return NewSearchWorker(e.config, e, e.clientOptions(opts)...)
}

// SourceMaps returns a new source-map worker client.
func (e *Engine) SourceMaps(opts ...ClientOption) *SourceMapWorker {
	return NewSourceMapWorker(e.config, e, e.clientOptions(opts)...)
}
