package utils

import "github.com/rs/zerolog"

// BestEffort runs fn and logs, rather than propagates, its failure. Reserved
// for side effects the surrounding operation must survive, such as opening a
// browser tab or tightening file permissions.
func BestEffort(log zerolog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Debug().Err(err).Msgf("%s failed", what)
	}
}
