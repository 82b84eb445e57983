package logger

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

var (
	mu           sync.Mutex
	root         *zap.Logger
	namedLevels  []namedLevel
	namedLoggers = make(map[string]*zap.Logger)
)

type namedLevel struct {
	pattern glob.Glob
	level   zap.AtomicLevel
}

func init() {
	root, _ = zap.NewDevelopment()
}

// Default returns the root logger.
func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root
}

// SetDefault replaces the root logger and rebinds every named logger to it.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	rebind()
}

// SetNamedLevels installs per-name level overrides. First match wins.
func SetNamedLevels(levels []NamedLevel) {
	mu.Lock()
	defer mu.Unlock()
	namedLevels = namedLevels[:0]
	for _, nl := range levels {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(nl.Level))
		if err != nil {
			continue
		}
		g, err := glob.Compile(nl.Name)
		if err != nil {
			continue
		}
		namedLevels = append(namedLevels, namedLevel{pattern: g, level: lvl})
	}
	rebind()
}

// NewNamed returns the logger registered under name, creating it on first
// use. The returned pointer stays valid across SetDefault calls.
func NewNamed(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := namedLoggers[name]; ok {
		return l
	}
	l := build(name)
	namedLoggers[name] = l
	return l
}

func build(name string) *zap.Logger {
	return zap.New(root.Core(), zap.AddCaller()).Named(name).WithOptions(zap.IncreaseLevel(levelFor(name)))
}

func levelFor(name string) zap.AtomicLevel {
	for _, nl := range namedLevels {
		if nl.pattern.Match(name) {
			return nl.level
		}
	}
	return zap.NewAtomicLevelAt(root.Level())
}

// rebind must be called with mu held.
func rebind() {
	for name, l := range namedLoggers {
		*l = *build(name)
	}
}
