/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package media

import (
	"github.com/gobble-im/gobble/log"
)

// NopEngine is an Engine that only logs what it is told. It stands in
// until a rendering process binds a real media stack.
type NopEngine struct{}

func (NopEngine) SetRemoteCodecs(streamName string, codecs []Codec) {
	log.Debugf("media: %s: %d remote codecs", streamName, len(codecs))
}

func (NopEngine) SetRemoteCandidates(streamName string, candidates []Candidate) {
	log.Debugf("media: %s: %d remote candidates", streamName, len(candidates))
}

func (NopEngine) SetPlaying(streamName string, playing bool) {
	log.Debugf("media: %s: playing=%t", streamName, playing)
}

func (NopEngine) SetSending(streamName string, sending bool) {
	log.Debugf("media: %s: sending=%t", streamName, sending)
}

func (NopEngine) StartTelephonyEvent(streamName string, event byte)  {}
func (NopEngine) StopTelephonyEvent(streamName string)               {}
func (NopEngine) SetOutputWindow(streamName string, windowID uint32) {}
func (NopEngine) MuteInput(streamName string, mute bool)             {}
func (NopEngine) MuteOutput(streamName string, mute bool)            {}
func (NopEngine) SetVolume(streamName string, volume uint16)         {}

func (NopEngine) Close(streamName string) {
	log.Debugf("media: %s: closed", streamName)
}
