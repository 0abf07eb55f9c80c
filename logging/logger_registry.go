package logging

import (
	"regexp"
	"sort"
	"sync"
)

var globalRegistry = newRegistry()

// Registry tracks named loggers so that pattern based level configuration can be applied to
// loggers created before and after the configuration is read.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// registerLogger replaces whatever is registered under name and applies the matching pattern level.
func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, matched, err := lr.levelFor(name); err == nil && matched {
		logger.SetLevel(level)
	}
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// levelFor returns the level of the last pattern matching name. Assumes a lock is held.
func (lr *Registry) levelFor(name string) (Level, bool, error) {
	var (
		matched bool
		level   Level
	)
	for _, lpc := range lr.logConfig {
		if !validatePattern(lpc.Pattern) {
			continue
		}
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return INFO, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		parsed, err := LevelFromString(lpc.Level)
		if err != nil {
			return INFO, false, err
		}
		level, matched = parsed, true
	}
	return level, matched, nil
}

// Update stores the pattern configuration and applies it to every registered logger. Loggers not
// matched by any pattern are reset to INFO.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	for _, lpc := range logConfig {
		if !validatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
		}
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.logConfig = logConfig

	for name, logger := range lr.loggers {
		level, matched, err := lr.levelFor(name)
		if err != nil {
			return err
		}
		if !matched {
			level = INFO
		}
		logger.SetLevel(level)
	}
	return nil
}

func (lr *Registry) getRegisteredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	sort.Strings(registeredNames)
	return registeredNames
}

// getOrRegister will either:
//   - return an existing logger for the input logger `name` or
//   - register the input `logger` for the given logger `name` and configure it based on the
//     existing patterns.
//
// Such that if concurrent callers try registering the same logger, the "winner"s logger will be
// registered and all losers will return the winning logger.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	if name == "" {
		return logger
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	if level, matched, err := lr.levelFor(name); err == nil && matched {
		logger.SetLevel(level)
	}
	return logger
}

// UpdateLoggerLevelsFromConfig applies pattern levels to every logger created through this package.
func UpdateLoggerLevelsFromConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalRegistry.Update(logConfig, errorLogger)
}

// RegisterLogger makes logger subject to pattern levels under name, replacing any logger already
// registered with that name.
func RegisterLogger(name string, logger Logger) {
	globalRegistry.registerLogger(name, logger)
}
