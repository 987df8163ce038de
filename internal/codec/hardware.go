package codec

import "golang.org/x/sys/cpu"

// AccelerationStatus reports whether the host CPU offers the vector
// extensions Go's pure-Go ChaCha20 implementation uses to speed up
// encryption. Unlike AES, XChaCha20-Poly1305 gets no benefit from AES-NI;
// what matters here is AVX2 on x86_64 and ASIMD (NEON) on arm64.
type AccelerationStatus struct {
	HasAVX2  bool
	HasASIMD bool
}

// DetectAcceleration inspects the running CPU's feature flags.
func DetectAcceleration() AccelerationStatus {
	return AccelerationStatus{
		HasAVX2:  cpu.X86.HasAVX2,
		HasASIMD: cpu.ARM64.HasASIMD,
	}
}

// Accelerated reports whether any recognized vector extension is present.
func (s AccelerationStatus) Accelerated() bool {
	return s.HasAVX2 || s.HasASIMD
}
