package logger

import (
	"log/slog"
	"time"
)

// Field helpers for structured logging
var (
	String = slog.String
	Int    = slog.Int
	Uint64 = slog.Uint64
	Bool   = slog.Bool
	Any    = slog.Any

	Duration = func(key string, d time.Duration) slog.Attr {
		return slog.Duration(key, d)
	}

	ErrorField = func(err error) slog.Attr {
		if err == nil {
			return slog.String("error", "<nil>")
		}
		return slog.String("error", err.Error())
	}

	Component = func(name string) slog.Attr {
		return slog.String("component", name)
	}

	Operation = func(name string) slog.Attr {
		return slog.String("operation", name)
	}

	Address = func(addr string) slog.Attr {
		return slog.String("address", addr)
	}
)
