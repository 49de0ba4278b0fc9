package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels for CLI -v flag counts.
const (
	VerbosityUser  = 0 // No flags: warnings and errors
	VerbosityInfo  = 1 // -v: + stage transitions, startup
	VerbosityDebug = 2 // -vv: + per-candidate detail, oracle timing
	VerbosityTrace = 3 // -vvv: + prompts and raw oracle responses
)

// VerbosityToLevel maps a -v count to a zap level.
//
//	0 (none)  -> WarnLevel
//	1 (-v)    -> InfoLevel
//	2+ (-vv)  -> DebugLevel
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ShouldLogTrace returns true for verbosity >= 3 (-vvv)
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// LevelName returns a human-readable name for a verbosity level
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityUser:
		return "User"
	case verbosity == VerbosityInfo:
		return "Info (-v)"
	case verbosity == VerbosityDebug:
		return "Debug (-vv)"
	default:
		return "Trace (-vvv)"
	}
}
