// Package script loads Lua-defined patterns.
//
// A script declares a global table and a sampling function:
//
//	pattern = { id = 20, name = "Aurora", icon = "fas fa-star", colors = { "#00ff88", "#0088ff" } }
//
//	function sample(i, t, speed, brightness, n)
//	  return (i / n + t * speed) % 1, 0.5 + 0.5 * math.sin(t)
//	end
//
// sample returns a palette position in [0,1) and a brightness level; the
// renderer applies the usual intensity clamp.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lampyd/internal/pattern"
)

var (
	// ErrNoPattern is returned when a script has no pattern table
	ErrNoPattern = errors.New("script does not define a pattern table")
	// ErrNoSample is returned when a script has no sample function
	ErrNoSample = errors.New("script does not define a sample function")
	// ErrReservedID is returned when a script reuses a built-in pattern id
	ErrReservedID = errors.New("pattern id is used by a built-in pattern")
)

// Default time budgets for running script code
const (
	DefaultLoadTimeout   = 2 * time.Second
	DefaultSampleTimeout = 20 * time.Millisecond
)

// script is one loaded file with its own Lua state
type script struct {
	path   string
	id     int
	name   string
	mu     sync.Mutex // LState is not goroutine safe
	L      *lua.LState
	sample *lua.LFunction
	failed bool
	// stalled is set when sample overruns its budget; the script stays
	// disabled until the file is reloaded
	stalled bool
}

// Engine owns the loaded scripts and registers them in the catalog
type Engine struct {
	catalog *pattern.Catalog

	loadTimeout   time.Duration
	sampleTimeout time.Duration

	mu     sync.RWMutex
	byID   map[int]*script
	byPath map[string]*script
}

// NewEngine creates an engine registering patterns into catalog
func NewEngine(catalog *pattern.Catalog) *Engine {
	return &Engine{
		catalog:       catalog,
		loadTimeout:   DefaultLoadTimeout,
		sampleTimeout: DefaultSampleTimeout,
		byID:          make(map[int]*script),
		byPath:        make(map[string]*script),
	}
}

// SetTimeouts sets the budgets for a script's top level and for one sample
// call. Non-positive values keep the current budget.
func (e *Engine) SetTimeouts(load, sample time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if load > 0 {
		e.loadTimeout = load
	}
	if sample > 0 {
		e.sampleTimeout = sample
	}
}

// LoadDir loads every *.lua file in dir. Broken files are logged and skipped.
func (e *Engine) LoadDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	loaded := 0
	for _, path := range matches {
		if err := e.LoadFile(path); err != nil {
			log.Error().Err(err).Str("script", path).Msg("Failed to load pattern script")
			continue
		}
		loaded++
	}
	return loaded, nil
}

// LoadFile loads or reloads one script and registers its pattern
func (e *Engine) LoadFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	e.mu.RLock()
	timeout := e.loadTimeout
	e.mu.RUnlock()

	s, def, err := compile(path, string(src), timeout)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.catalog.Get(def.ID); ok && existing.Variant != pattern.VariantScripted {
		s.L.Close()
		return fmt.Errorf("%w: %d", ErrReservedID, def.ID)
	}
	if other, ok := e.byID[def.ID]; ok && other.path != path {
		s.L.Close()
		return fmt.Errorf("pattern id %d already defined by %s", def.ID, other.path)
	}

	if old, ok := e.byPath[path]; ok {
		e.dropLocked(old)
	}

	e.byID[s.id] = s
	e.byPath[path] = s
	e.catalog.Register(def)

	log.Info().Str("script", filepath.Base(path)).Int("id", s.id).Str("name", s.name).Msg("Pattern script loaded")
	return nil
}

// Remove unloads the script at path
func (e *Engine) Remove(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.byPath[path]; ok {
		e.dropLocked(s)
		log.Info().Str("script", filepath.Base(path)).Int("id", s.id).Msg("Pattern script removed")
	}
}

func (e *Engine) dropLocked(s *script) {
	delete(e.byPath, s.path)
	if e.byID[s.id] == s {
		delete(e.byID, s.id)
		e.catalog.Unregister(s.id)
	}

	s.mu.Lock()
	s.L.Close()
	s.mu.Unlock()
}

// IDs returns the pattern ids provided by scripts
func (e *Engine) IDs() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]int, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SampleScript evaluates the sample function of the script providing id
func (e *Engine) SampleScript(id, pixel, pixels int, t, speed, brightness float64) (float64, float64, bool) {
	e.mu.RLock()
	s, ok := e.byID[id]
	timeout := e.sampleTimeout
	e.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.L.IsClosed() || s.stalled {
		return 0, 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.L.SetContext(ctx)
	err := s.L.CallByParam(lua.P{Fn: s.sample, NRet: 2, Protect: true},
		lua.LNumber(pixel), lua.LNumber(t), lua.LNumber(speed), lua.LNumber(brightness), lua.LNumber(pixels))
	s.L.RemoveContext()
	expired := ctx.Err() != nil
	cancel()
	if expired {
		s.stalled = true
		log.Error().Str("script", filepath.Base(s.path)).Dur("budget", timeout).
			Msg("Pattern script sample exceeded its time budget, disabled until reloaded")
		return 0, 0, false
	}
	if err != nil {
		if !s.failed {
			log.Error().Err(err).Str("script", filepath.Base(s.path)).Msg("Pattern script sample failed")
			s.failed = true
		}
		return 0, 0, false
	}

	level := s.L.Get(-1)
	pos := s.L.Get(-2)
	s.L.Pop(2)

	p, ok1 := pos.(lua.LNumber)
	l, ok2 := level.(lua.LNumber)
	if !ok1 || !ok2 {
		if !s.failed {
			log.Error().Str("script", filepath.Base(s.path)).Msg("sample must return two numbers")
			s.failed = true
		}
		return 0, 0, false
	}
	s.failed = false
	return float64(p), float64(l), true
}

// Close unloads every script
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.byPath {
		e.dropLocked(s)
	}
}

// compile runs the script in a fresh state and reads its declarations.
// The top level must finish within timeout.
func compile(path, src string, timeout time.Duration) (*script, *pattern.Definition, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.LoadLibName, lua.OpenPackage},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	L.PreloadModule("log", newLogModule(filepath.Base(path)).Loader)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	L.SetContext(ctx)
	err := L.DoString(src)
	L.RemoveContext()
	if ctx.Err() != nil {
		L.Close()
		return nil, nil, fmt.Errorf("script did not finish within %s", timeout)
	}
	if err != nil {
		L.Close()
		return nil, nil, fmt.Errorf("failed to run script: %w", err)
	}

	def, err := readPattern(L)
	if err != nil {
		L.Close()
		return nil, nil, err
	}

	fn, ok := L.GetGlobal("sample").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, nil, ErrNoSample
	}

	return &script{path: path, id: def.ID, name: def.Name, L: L, sample: fn}, def, nil
}

func readPattern(L *lua.LState) (*pattern.Definition, error) {
	tbl, ok := L.GetGlobal("pattern").(*lua.LTable)
	if !ok {
		return nil, ErrNoPattern
	}

	id, ok := tbl.RawGetString("id").(lua.LNumber)
	if !ok || float64(id) != float64(int(id)) || id < 0 {
		return nil, fmt.Errorf("pattern.id must be a non-negative integer")
	}

	name := strings.TrimSpace(lua.LVAsString(tbl.RawGetString("name")))
	if name == "" {
		return nil, fmt.Errorf("pattern.name is required")
	}
	icon := lua.LVAsString(tbl.RawGetString("icon"))

	colorsTbl, ok := tbl.RawGetString("colors").(*lua.LTable)
	if !ok || colorsTbl.Len() == 0 {
		return nil, fmt.Errorf("pattern.colors must be a non-empty list")
	}
	raw := make([]string, 0, colorsTbl.Len())
	for i := 1; i <= colorsTbl.Len(); i++ {
		raw = append(raw, lua.LVAsString(colorsTbl.RawGetInt(i)))
	}
	colors, err := pattern.ParseColors(raw)
	if err != nil {
		return nil, fmt.Errorf("pattern.colors: %w", err)
	}

	return pattern.NewDefinition(int(id), name, icon, pattern.VariantScripted, colors), nil
}
