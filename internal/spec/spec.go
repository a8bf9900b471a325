package spec

// Steganography constants
const (
	DEFAULT_WIDTH   = 64 // Default width (px) for generated covers
	HEADER_BITS     = 32 // Bits for storing payload length
	HEADER_SIZE     = 4  // Bytes for storing payload length
	BITS_PER_BYTE   = 8  // Standard byte size
	CHANNELS        = 3  // RGB channels carrying data (alpha is never touched)
	BYTES_PER_PIXEL = 4  // R, G, B, A
)

// Security constants
const (
	SALT_SIZE    = 16     // Salt for PBKDF2
	NONCE_SIZE   = 12     // GCM nonce size
	KEY_SIZE     = 32     // AES-256 key size
	TAG_SIZE     = 16     // GCM authentication tag
	PBKDF2_ITERS = 100000 // PBKDF2 iterations

	// MIN_SEALED_SIZE is the smallest valid nonce ‖ ciphertext ‖ tag bundle
	MIN_SEALED_SIZE = NONCE_SIZE + TAG_SIZE

	// CONTAINER_OVERHEAD is what the container adds on top of the plaintext
	CONTAINER_OVERHEAD = SALT_SIZE + NONCE_SIZE + TAG_SIZE
)
