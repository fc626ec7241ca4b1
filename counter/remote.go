package counter

// Remote is the counter service that owns the card.  One method is one
// request/response on the wire; implementations must serialize calls that
// share a connection.
type Remote interface {
	// IsChannelDone returns true when the channel finished its acquisition
	IsChannelDone(name string) (bool, error)

	// SetChannelsEnabled enables or disables a set of channels
	SetChannelsEnabled(names []string, enabled bool) error

	// StopChannels stops counting on a set of channels
	StopChannels(names []string) error

	// StartChannels starts a hardware timed acquisition of samples points
	// with a gate (high) time of highTime seconds
	StartChannels(names []string, samples int, highTime float64) error

	// SamplesReady returns the number of samples produced so far on a channel
	SamplesReady(name string) (int, error)

	// ChannelData returns the samples with index in [from, to)
	ChannelData(name string, from, to int) ([]float64, error)
}
