// Package srp implements the client side of SRP-6a (RFC 5054) with SHA-256,
// using the 2048-bit group, plus the password pre-hashing protocols ("s2k",
// "s2k_fo") used by Apple's identity service. The server never sees the
// plaintext password: the client only sends its public key A and the evidence
// value M1 derived from the shared session key.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// 2048-bit group from RFC 5054, appendix A. The generator is 2.
const groupHex2048 = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

var (
	groupN *big.Int
	groupG = big.NewInt(2)
	multK  *big.Int
)

func init() {
	n, ok := new(big.Int).SetString(groupHex2048, 16)
	if !ok {
		panic("srp: invalid group constant")
	}
	groupN = n
	// k = H(N | pad(g))
	multK = hashToInt(groupN.Bytes(), pad(groupG))
}

var (
	// ErrInvalidServerKey is returned when the server public key B is
	// congruent to zero mod N, which would make the session key trivial.
	ErrInvalidServerKey = errors.New("srp: invalid server public key")

	// ErrUnsupportedProtocol is returned for a password hashing protocol
	// other than s2k or s2k_fo.
	ErrUnsupportedProtocol = errors.New("srp: unsupported password protocol")
)

// DerivePassword applies the provider's password pre-hashing before the SRP
// exchange: the password is digested with SHA-256 ("s2k"), optionally
// hex-encoded first ("s2k_fo"), then stretched with PBKDF2-SHA256 using the
// server-supplied salt and iteration count.
//
// The result is deterministic: the same protocol, password, salt and
// iteration count always yield the same key.
func DerivePassword(protocol, password string, salt []byte, iterations int) ([]byte, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("srp: invalid iteration count %d", iterations)
	}

	digest := sha256.Sum256([]byte(password))
	secret := digest[:]

	switch protocol {
	case "s2k":
	case "s2k_fo":
		secret = []byte(hex.EncodeToString(secret))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}

	return pbkdf2.Key(secret, salt, iterations, sha256.Size, sha256.New), nil
}

// Client holds the ephemeral key pair for a single SRP handshake.
// A Client must not be reused across handshakes.
type Client struct {
	a *big.Int // ephemeral secret
	A *big.Int // public key, g^a mod N
}

// NewClient generates a fresh ephemeral key pair.
func NewClient() (*Client, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("srp: ephemeral key generation: %w", err)
	}
	return newClientFromSecret(secret), nil
}

// newClientFromSecret is split out so tests can build deterministic clients.
func newClientFromSecret(secret []byte) *Client {
	a := new(big.Int).SetBytes(secret)
	return &Client{
		a: a,
		A: new(big.Int).Exp(groupG, a, groupN),
	}
}

// PublicKey returns the client public value A as a big-endian byte slice.
func (c *Client) PublicKey() []byte {
	return c.A.Bytes()
}

// Proofs holds the two evidence values of a completed handshake:
// M1 is sent to the server, M2 is the value an honest server echoes back.
type Proofs struct {
	M1 []byte
	M2 []byte
}

// Complete consumes the server public key B and computes the session proofs
// for the given identity and derived password (see DerivePassword).
//
//	u  = H(pad(A) | pad(B))
//	x  = H(salt | H(identity ":" password))
//	S  = (B - k*g^x) ^ (a + u*x) mod N
//	K  = H(S)
//	M1 = H(H(N) xor H(g) | H(identity) | salt | A | B | K)
//	M2 = H(A | M1 | K)
func (c *Client) Complete(identity string, derived, salt, serverB []byte) (*Proofs, error) {
	B := new(big.Int).SetBytes(serverB)
	if new(big.Int).Mod(B, groupN).Sign() == 0 {
		return nil, ErrInvalidServerKey
	}

	u := hashToInt(pad(c.A), pad(B))
	if u.Sign() == 0 {
		return nil, ErrInvalidServerKey
	}

	inner := sha256.New()
	inner.Write([]byte(identity))
	inner.Write([]byte(":"))
	inner.Write(derived)
	x := hashToInt(salt, inner.Sum(nil))

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(groupG, x, groupN)
	base := new(big.Int).Sub(B, new(big.Int).Mul(multK, gx))
	base.Mod(base, groupN)
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, groupN)

	key := sha256.Sum256(S.Bytes())

	hn := sha256.Sum256(groupN.Bytes())
	hg := sha256.Sum256(pad(groupG))
	for i := range hn {
		hn[i] ^= hg[i]
	}
	hi := sha256.Sum256([]byte(identity))

	m1h := sha256.New()
	m1h.Write(hn[:])
	m1h.Write(hi[:])
	m1h.Write(salt)
	m1h.Write(c.A.Bytes())
	m1h.Write(B.Bytes())
	m1h.Write(key[:])
	m1 := m1h.Sum(nil)

	m2h := sha256.New()
	m2h.Write(c.A.Bytes())
	m2h.Write(m1)
	m2h.Write(key[:])
	m2 := m2h.Sum(nil)

	return &Proofs{M1: m1, M2: m2}, nil
}

// VerifyServerProof compares a server-sent M2 against the expected value in
// constant time.
func (p *Proofs) VerifyServerProof(serverM2 []byte) bool {
	return subtle.ConstantTimeCompare(p.M2, serverM2) == 1
}

// pad left-pads v to the byte length of N, as required for u and k.
func pad(v *big.Int) []byte {
	b := v.Bytes()
	size := len(groupN.Bytes())
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

func hashToInt(chunks ...[]byte) *big.Int {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
