package service

// Defaults for classroom sessions and squad battles
const (
	DefaultTimeLimit       = 60 // seconds
	DefaultSquadCapacity   = 6
	DefaultMinSquadPlayers = 2
)

// Options tunes service behaviour; the zero value is not useful, start
// from DefaultOptions
type Options struct {
	Strategy         MergeStrategy
	CollisionCheck   bool
	DefaultTimeLimit int
	SquadCapacity    int
	MinSquadPlayers  int
}

// DefaultOptions returns the settings used when no game config is loaded
func DefaultOptions() Options {
	return Options{
		Strategy:         MergeTransactional,
		CollisionCheck:   true,
		DefaultTimeLimit: DefaultTimeLimit,
		SquadCapacity:    DefaultSquadCapacity,
		MinSquadPlayers:  DefaultMinSquadPlayers,
	}
}
