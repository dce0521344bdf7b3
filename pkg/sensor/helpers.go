package sensor

import "github.com/ericogr/ad8495-to-mqtt/pkg/config"

// buildChannelSettings extracts common per-channel settings from the config.
// Returned maps contain an entry for every enabled channel.
func buildChannelSettings(cfg config.Config) (channels []config.ChannelConfig, sampleRates map[int]int, samples map[int]int) {
	channels = cfg.EnabledChannels()
	sampleRates = make(map[int]int, len(channels))
	samples = make(map[int]int, len(channels))
	for _, c := range channels {
		sampleRates[c.Channel] = cfg.ChannelSampleRate(c)
		samples[c.Channel] = cfg.ChannelSamples(c)
	}
	return
}
