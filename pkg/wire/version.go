package wire

import (
	"fmt"

	"github.com/blang/semver"
)

// Version is a protocol_version triple (major.minor.patch) carried on the
// wire as a compact uint8 triple (devices are embedded; a full semver
// string is needless overhead on every envelope), compared with min-of-both
// negotiation semantics (§4.1) via blang/semver's ordering: the negotiated
// version is (min(major), min(minor), min(patch)); a mismatch on major
// fails the handshake with Error{UnsupportedFeature}.
type Version struct {
	Major uint8 `cbor:"1,keyasint"`
	Minor uint8 `cbor:"2,keyasint"`
	Patch uint8 `cbor:"3,keyasint"`
}

// CurrentVersion is the protocol version this codec implements.
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

// semver converts v to a blang/semver.Version for comparison and display.
func (v Version) semver() semver.Version {
	return semver.Version{Major: uint64(v.Major), Minor: uint64(v.Minor), Patch: uint64(v.Patch)}
}

// String renders the version as "major.minor.patch".
func (v Version) String() string {
	return v.semver().String()
}

// Negotiate computes the min-of-both version between a local and a peer
// version, returning an error if the major versions differ.
func Negotiate(local, peer Version) (Version, error) {
	ls, ps := local.semver(), peer.semver()
	if ls.Major != ps.Major {
		return Version{}, fmt.Errorf("%w: local major %d, peer major %d", ErrUnsupportedFeature, ls.Major, ps.Major)
	}

	negotiated := semver.Version{Major: ls.Major, Minor: ls.Minor, Patch: ls.Patch}
	if ps.Minor < ls.Minor {
		negotiated.Minor = ps.Minor
	}
	if ps.Patch < ls.Patch {
		negotiated.Patch = ps.Patch
	}
	return Version{
		Major: uint8(negotiated.Major),
		Minor: uint8(negotiated.Minor),
		Patch: uint8(negotiated.Patch),
	}, nil
}
