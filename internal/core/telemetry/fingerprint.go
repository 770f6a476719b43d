package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// fingerprintQuantum is the resolution below which trajectories are considered equal.
const fingerprintQuantum = 1e-9

// Fingerprint hashes a trajectory so that two runs can be compared for
// determinism without keeping every snapshot.
type Fingerprint struct {
	digest *xxhash.Digest
	buf    [8]byte
}

func NewFingerprint() *Fingerprint {
	return &Fingerprint{digest: xxhash.New()}
}

// Add folds the kinematic part of s into the hash. Run ids and wall-clock
// data are ignored.
func (f *Fingerprint) Add(s Snapshot) {
	f.putUint(s.Tick)
	for _, v := range []float64{
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
		s.Control.Thrust, s.Control.Roll, s.Control.Pitch,
	} {
		f.putUint(uint64(int64(math.Round(v / fingerprintQuantum))))
	}
	_, _ = f.digest.WriteString(s.Phase)
}

func (f *Fingerprint) Sum64() uint64 { return f.digest.Sum64() }

// String renders the hash as fixed-width hex.
func (f *Fingerprint) String() string {
	return fmt.Sprintf("%016x", f.Sum64())
}

func (f *Fingerprint) putUint(v uint64) {
	binary.LittleEndian.PutUint64(f.buf[:], v)
	_, _ = f.digest.Write(f.buf[:])
}
