package inbox

import (
	"math"

	"github.com/3nsoft-go/asmail-core/xsp"
)

// maxObjectSize is passed to Handle.ReadObjectRange to mean "the whole
// object"; the cache clamps it to the object's real length once the
// leading read reports a total (§4.F).
const maxObjectSize = math.MaxInt64

// splitObjectBytes splits an object's combined header+segment stream
// (as objcache stores it) into the fixed-length xsp header and the
// remaining segment bytes xsp.Open and message.Open expect.
func splitObjectBytes(combined []byte) (headerBytes, segmentBytes []byte, err error) {
	if len(combined) < xsp.HeaderLen() {
		return nil, nil, errf(KindMalformed, "object shorter than one xsp header")
	}
	return combined[:xsp.HeaderLen()], combined[xsp.HeaderLen():], nil
}
