/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package caps

import (
	"github.com/gobble-im/gobble/version"
)

const (
	discoInfoFeature          = "http://jabber.org/protocol/disco#info"
	entityCapsFeature         = "http://jabber.org/protocol/caps"
	jingleFeature             = "http://jabber.org/protocol/jingle"
	jingleAudioFeature        = "http://jabber.org/protocol/jingle/description/audio"
	jingleVideoFeature        = "http://jabber.org/protocol/jingle/description/video"
	googleVoiceFeature        = "http://www.google.com/xmpp/protocol/voice/v1"
	googleTransportP2PFeature = "http://www.google.com/transport/p2p"
)

// Node identifies this implementation in entity capability
// advertisements. Bundles are disco'd at "Node#bundle".
const Node = "http://gobble.im/caps"

// Set is a bitmask of media related capabilities a contact
// resource has been found to support.
type Set uint32

const (
	// GoogleVoice indicates support for the legacy Google Talk voice protocol.
	GoogleVoice Set = 1 << iota

	// GoogleTransportP2P indicates support for the Google p2p transport.
	GoogleTransportP2P

	// Jingle indicates support for Jingle signalling.
	Jingle

	// JingleAudio indicates support for Jingle audio sessions.
	JingleAudio

	// JingleVideo indicates support for Jingle video sessions.
	JingleVideo

	// None is the empty capability set.
	None Set = 0
)

// Feature associates an advertised feature var with the capability
// bit it proves. Features whose bundle equals the base bundle are
// always advertised; the rest travel as 'ext' bundle tokens.
type Feature struct {
	Bundle string
	Var    string
	Caps   Set
}

// BaseBundle returns the bundle token under which the fixed feature
// set is advertised. It doubles as the entity caps 'ver' attribute.
func BaseBundle() string {
	return version.ApplicationVersion.String()
}

func featureTable() []Feature {
	base := BaseBundle()
	return []Feature{
		{base, discoInfoFeature, None},
		{base, entityCapsFeature, None},
		{base, googleTransportP2PFeature, GoogleTransportP2P},
		{base, jingleFeature, Jingle},
		{"voice-v1", googleVoiceFeature, GoogleVoice},
		{"jingle-audio", jingleAudioFeature, JingleAudio},
		{"jingle-video", jingleVideoFeature, JingleVideo},
	}
}

// Initial returns the capability set seeded on the self presence
// record before any client advertises anything.
func Initial() Set {
	var s Set
	for _, f := range featureTable() {
		if f.Bundle == BaseBundle() {
			s |= f.Caps
		}
	}
	return s
}

// ForBundle returns the capability bits a bundle token stands for in
// this implementation's own feature table, or false for a token it
// never advertises.
func ForBundle(bundle string) (Set, bool) {
	var s Set
	found := false
	for _, f := range featureTable() {
		if f.Bundle == bundle {
			s |= f.Caps
			found = true
		}
	}
	return s, found
}

// FromFeatureVar returns the capability bit proven by an advertised
// feature var, or None when the var is unknown. Matching is exact.
func FromFeatureVar(v string) Set {
	for _, f := range featureTable() {
		if f.Var == v {
			return f.Caps
		}
	}
	return None
}

// FromFeatureVars folds a disco feature var list into a capability set.
func FromFeatureVars(vars []string) Set {
	var s Set
	for _, v := range vars {
		s |= FromFeatureVar(v)
	}
	return s
}

// Has tells whether every bit of mask is present in the set.
func (s Set) Has(mask Set) bool {
	return s&mask == mask
}

// Features returns the feature entries covered by the set. Entries
// carrying no capability bit are fixed and always included.
func (s Set) Features() []Feature {
	var ret []Feature
	for _, f := range featureTable() {
		if f.Caps == None || s.Has(f.Caps) {
			ret = append(ret, f)
		}
	}
	return ret
}

// BundleExtensions returns the distinct bundle tokens, other than the
// base bundle, under which the set's features are advertised. This is
// the value of the presence <c/> 'ext' attribute.
func (s Set) BundleExtensions() []string {
	var ret []string
	seen := map[string]bool{}
	for _, f := range s.Features() {
		if f.Bundle == BaseBundle() || seen[f.Bundle] {
			continue
		}
		seen[f.Bundle] = true
		ret = append(ret, f.Bundle)
	}
	return ret
}

// FeaturesForBundle returns the feature vars belonging to a single
// bundle token of the set, for answering disco queries on
// "node#bundle" addresses. An empty bundle selects every feature.
func (s Set) FeaturesForBundle(bundle string) []string {
	var ret []string
	for _, f := range s.Features() {
		if len(bundle) == 0 || f.Bundle == bundle {
			ret = append(ret, f.Var)
		}
	}
	return ret
}
