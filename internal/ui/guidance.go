package ui

import (
	"errors"
	"fmt"

	"github.com/eliteGoblin/dictd/internal/client"
	"github.com/eliteGoblin/dictd/internal/domain"
)

// Advice is a user-facing explanation of a failure.
type Advice struct {
	Summary string
	Hint    string
}

// Guidance maps client and daemon errors to what the user should do next.
// logPath is quoted in hints that point at the daemon log.
func Guidance(err error, logPath string) Advice {
	var (
		timeout  *client.TimeoutError
		startErr *client.DaemonStartError
		running  *domain.AlreadyRunningError
		missing  *domain.DependencyMissingError
	)

	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		return Advice{
			Summary: "The dictd daemon is not running.",
			Hint:    "Start it with `dictd daemon`, or enable daemon.auto_start in config.yaml.",
		}
	case errors.As(err, &timeout):
		return Advice{
			Summary: fmt.Sprintf("The daemon did not respond within %s.", timeout.Timeout),
			Hint:    fmt.Sprintf("It may be hung. Restart it with `dictd shutdown` followed by `dictd daemon`, and check %s.", logPath),
		}
	case errors.Is(err, client.ErrConnectionClosed):
		return Advice{
			Summary: "The daemon closed the connection before answering.",
			Hint:    fmt.Sprintf("It may have crashed. Check %s, then retry.", logPath),
		}
	case errors.As(err, &startErr):
		return Advice{
			Summary: "Could not start the dictd daemon: " + startErr.Error() + ".",
			Hint:    fmt.Sprintf("Run `dictd daemon --foreground` to see startup errors, or check %s.", logPath),
		}
	case errors.As(err, &running):
		return Advice{
			Summary: err.Error() + ".",
			Hint:    "Use `dictd status` to talk to it, or `dictd shutdown` to stop it.",
		}
	case errors.As(err, &missing):
		return Advice{Summary: err.Error()}
	case errors.Is(err, domain.ErrNoCredentials):
		return Advice{
			Summary: "No transcription API key is configured.",
			Hint:    "Set DICTD_API_KEY (or OPENAI_API_KEY) in the environment or in the dictd .env file.",
		}
	default:
		return Advice{Summary: err.Error()}
	}
}
