package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the global logger with the running role and peer id and
// returns it.
func InitLogger(role, id string) zerolog.Logger {
	logger := log.Logger.With().Str("role", role).Str("node_id", id).Logger()
	log.Logger = logger
	return logger
}
