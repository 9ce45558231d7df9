package pairing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/big"
)

// SRP-6a 3072-bit group, RFC 5054 §A.
const srpGroup3072Hex = "" +
	"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF9" +
	"7D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935" +
	"984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FB" +
	"B96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F61" +
	"9172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA" +
	"886B423861285C97FFFFFFFFFFFFFFFF"

const srpGeneratorHex = "05"

var (
	srpN *big.Int
	srpG *big.Int
)

func init() {
	var ok bool
	srpN, ok = new(big.Int).SetString(srpGroup3072Hex, 16)
	if !ok {
		panic("pairing: invalid SRP group modulus")
	}
	srpG, ok = new(big.Int).SetString(srpGeneratorHex, 16)
	if !ok {
		panic("pairing: invalid SRP generator")
	}
}

// srpHash is SRP's H() per spec.md §4.2: SHA-512.
func srpHash(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// srpK is the SRP-6a multiplier k = H(N | PAD(g)).
func srpK() *big.Int {
	return new(big.Int).SetBytes(srpHash(srpN.Bytes(), padTo(srpG.Bytes(), len(srpN.Bytes()))))
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// ClientSession holds SRP-6a state across M1-M4 for the client role.
type ClientSession struct {
	username string
	password string

	a *big.Int // private ephemeral
	A *big.Int // public ephemeral

	salt []byte
	B    *big.Int

	K []byte // shared session key, hashed
}

// NewClientSession starts an SRP-6a exchange as the client ("Pair-Setup"
// issues requests, the accessory is the SRP server).
func NewClientSession(username, password string) (*ClientSession, error) {
	a, err := rand.Int(rand.Reader, srpN)
	if err != nil {
		return nil, fmt.Errorf("generating SRP private ephemeral: %w", err)
	}
	if a.Sign() == 0 {
		a.SetInt64(1)
	}
	A := new(big.Int).Exp(srpG, a, srpN)
	return &ClientSession{username: username, password: password, a: a, A: A}, nil
}

// PublicKey returns the client's public ephemeral A.
func (c *ClientSession) PublicKey() []byte {
	return padTo(c.A.Bytes(), len(srpN.Bytes()))
}

// SetServerValues records the server's salt and public ephemeral from M2.
func (c *ClientSession) SetServerValues(salt []byte, B []byte) error {
	bigB := new(big.Int).SetBytes(B)
	if new(big.Int).Mod(bigB, srpN).Sign() == 0 {
		return fmt.Errorf("pairing: server public key B is a multiple of N")
	}
	c.salt = salt
	c.B = bigB
	return nil
}

// ComputeProof derives the shared secret K and the client proof M1 sent in
// M3, following spec.md §4.2's formula
// M1 = H(H(N)^H(g) | H(U) | s | A | B | K).
func (c *ClientSession) ComputeProof() (proof []byte, err error) {
	n := len(srpN.Bytes())

	u := new(big.Int).SetBytes(srpHash(padTo(c.A.Bytes(), n), padTo(c.B.Bytes(), n)))
	if u.Sign() == 0 {
		return nil, fmt.Errorf("pairing: SRP scrambling parameter u is zero")
	}

	x := c.privateKeyX()
	k := srpK()

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(k, gx)
	kgx.Mod(kgx, srpN)
	base := new(big.Int).Sub(c.B, kgx)
	base.Mod(base, srpN)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)

	S := new(big.Int).Exp(base, exp, srpN)
	c.K = srpHash(padTo(S.Bytes(), n))

	hN := srpHash(padTo(srpN.Bytes(), n))
	hG := srpHash(srpG.Bytes())
	hNxorG := xorBytes(hN, hG)
	hU := srpHash([]byte(c.username))

	proof = srpHash(hNxorG, hU, c.salt, padTo(c.A.Bytes(), n), padTo(c.B.Bytes(), n), c.K)
	return proof, nil
}

// VerifyServerProof checks the server's M2 proof H(A | M1 | K).
func (c *ClientSession) VerifyServerProof(clientProof, serverProof []byte) bool {
	n := len(srpN.Bytes())
	want := srpHash(padTo(c.A.Bytes(), n), clientProof, c.K)
	return hmac.Equal(want, serverProof)
}

// SharedSecret returns the raw 64-byte SRP session key K.
func (c *ClientSession) SharedSecret() []byte {
	return c.K
}

// privateKeyX computes x = H(s | H(U | ":" | P)) per SRP-6a, using the
// accessory-style "user:password" inner hash HAP pairing expects.
func (c *ClientSession) privateKeyX() *big.Int {
	inner := srpHash([]byte(c.username + ":" + c.password))
	outer := srpHash(c.salt, inner)
	return new(big.Int).SetBytes(outer)
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// DebugGroupModulusHex exposes the group modulus for diagnostics/tests.
func DebugGroupModulusHex() string {
	return hex.EncodeToString(srpN.Bytes())
}
