package metrics

import "github.com/rs/zerolog/log"

func logRecoveredPanic(rec interface{}) {
	log.Error().
		Str("component", "metrics").
		Interface("panic", rec).
		Msg("metrics recorder panicked, continuing")
}
