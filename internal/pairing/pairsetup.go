package pairing

import (
	"crypto/ed25519"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/airtap-go/airplay2/internal/apperr"
)

// PairSetupResult is what a completed pair-setup (transient or full)
// yields: always SessionKeys, plus a PairingIdentity when persistence was
// part of the flow (spec.md §4.2 M5/M6).
type PairSetupResult struct {
	SessionKeys SessionKeys
	Identity    *PairingIdentity
}

// PairSetup drives the client side of the M1-M6 SRP pair-setup exchange.
// Each Build/Process method corresponds to one request/response round
// trip; the caller owns the actual RTSP POST to /pair-setup.
type PairSetup struct {
	Username  string
	Transient bool

	srp *ClientSession

	// our long-lived Ed25519 identity, generated the first time this
	// struct is used for a persistent (non-transient) pairing.
	ourIdentifier string
	ourPublic     ed25519.PublicKey
	ourSecret     ed25519.PrivateKey

	devicePublic ed25519.PublicKey
}

// NewPairSetup starts a pair-setup flow against the given username
// ("Pair-Setup", "AirPlay", or "admin" per the dictionary policy).
func NewPairSetup(username string, transient bool, ourIdentifier string) *PairSetup {
	return &PairSetup{Username: username, Transient: transient, ourIdentifier: ourIdentifier}
}

// BuildM1 emits the initial TLV8 request: method=0 (pair-setup), state=M1,
// and a transient flag when this is a PIN-free transient flow.
func (p *PairSetup) BuildM1() []byte {
	pairs := []TLVPair{
		{Type: TLVState, Value: []byte{StateM1}},
		{Type: TLVMethod, Value: []byte{0x00}},
	}
	if p.Transient {
		pairs = append(pairs, TLVPair{Type: TLVFlags, Value: []byte{0x10, 0x00, 0x00, 0x00}})
	}
	return EncodeTLV8(pairs...)
}

// ProcessM2 reads the server's salt and public key, starts the SRP
// exchange with the given PIN, and returns the M3 request.
func (p *PairSetup) ProcessM2(m2 []byte, pin string) ([]byte, error) {
	tlv := DecodeTLV8(m2)
	salt, ok := tlv[TLVSalt]
	if !ok {
		return nil, fmt.Errorf("%w: M2 missing salt", apperr.New(apperr.KindPairingInvalid, "", false))
	}
	serverPublic, ok := tlv[TLVPublicKey]
	if !ok {
		return nil, fmt.Errorf("%w: M2 missing public key", apperr.New(apperr.KindPairingInvalid, "", false))
	}

	srp, err := NewClientSession(p.Username, pin)
	if err != nil {
		return nil, err
	}
	if err := srp.SetServerValues(salt, serverPublic); err != nil {
		return nil, err
	}
	p.srp = srp

	proof, err := srp.ComputeProof()
	if err != nil {
		return nil, err
	}

	return EncodeTLV8(
		TLVPair{Type: TLVState, Value: []byte{StateM3}},
		TLVPair{Type: TLVPublicKey, Value: srp.PublicKey()},
		TLVPair{Type: TLVProof, Value: proof},
	), nil
}

// ProcessM4 verifies the server proof. In transient mode this completes
// the exchange and returns session keys directly; otherwise it returns the
// M5 request that carries our signed Ed25519 identity.
func (p *PairSetup) ProcessM4(m4 []byte) (nextRequest []byte, result *PairSetupResult, err error) {
	tlv := DecodeTLV8(m4)
	serverProof, ok := tlv[TLVProof]
	if !ok {
		return nil, nil, fmt.Errorf("%w: M4 missing proof", apperr.New(apperr.KindPairingInvalid, "", false))
	}
	myProof, err := p.srp.ComputeProof()
	if err != nil {
		return nil, nil, err
	}
	if !p.srp.VerifyServerProof(myProof, serverProof) {
		return nil, nil, apperr.New(apperr.KindAuthenticationFail, "SRP server proof mismatch", false)
	}

	keys, err := DeriveSessionKeys(p.srp.SharedSecret())
	if err != nil {
		return nil, nil, err
	}

	if p.Transient {
		return nil, &PairSetupResult{SessionKeys: keys}, nil
	}

	pub, sec, err := GenerateIdentityKeypair()
	if err != nil {
		return nil, nil, err
	}
	p.ourPublic, p.ourSecret = pub, sec

	m5, err := p.buildM5()
	if err != nil {
		return nil, nil, err
	}
	return m5, nil, nil
}

func (p *PairSetup) buildM5() ([]byte, error) {
	subTLVKey, err := DeriveSubTLVKey(p.srp.SharedSecret(), "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	if err != nil {
		return nil, err
	}

	info := append(append([]byte{}, []byte(p.ourIdentifier)...), p.ourPublic...)
	sig := ed25519.Sign(p.ourSecret, info)

	subTLV := EncodeTLV8(
		TLVPair{Type: TLVIdentifier, Value: []byte(p.ourIdentifier)},
		TLVPair{Type: TLVPublicKey, Value: p.ourPublic},
		TLVPair{Type: TLVSignature, Value: sig},
	)

	encrypted, err := sealSubTLV(subTLVKey, subTLV, "PS-Msg05")
	if err != nil {
		return nil, err
	}

	return EncodeTLV8(
		TLVPair{Type: TLVState, Value: []byte{StateM5}},
		TLVPair{Type: TLVEncryptedData, Value: encrypted},
	), nil
}

// ProcessM6 decrypts and verifies the server's identity, completing a
// persistent pair-setup.
func (p *PairSetup) ProcessM6(m6 []byte) (*PairSetupResult, error) {
	tlv := DecodeTLV8(m6)
	encrypted, ok := tlv[TLVEncryptedData]
	if !ok {
		return nil, fmt.Errorf("%w: M6 missing encrypted data", apperr.New(apperr.KindPairingInvalid, "", false))
	}

	subTLVKey, err := DeriveSubTLVKey(p.srp.SharedSecret(), "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	if err != nil {
		return nil, err
	}
	plain, err := openSubTLV(subTLVKey, encrypted, "PS-Msg06")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuthenticationFail, "M6 decryption failed", false, err)
	}

	sub := DecodeTLV8(plain)
	deviceIdentifier := sub[TLVIdentifier]
	devicePublic := ed25519.PublicKey(sub[TLVPublicKey])
	signature := sub[TLVSignature]

	info := append(append([]byte{}, deviceIdentifier...), devicePublic...)
	if !ed25519.Verify(devicePublic, info, signature) {
		return nil, apperr.New(apperr.KindAuthenticationFail, "accessory identity signature invalid", false)
	}
	p.devicePublic = devicePublic

	keys, err := DeriveSessionKeys(p.srp.SharedSecret())
	if err != nil {
		return nil, err
	}

	return &PairSetupResult{
		SessionKeys: keys,
		Identity: &PairingIdentity{
			Identifier:      p.ourIdentifier,
			SecretKey:       p.ourSecret,
			PublicKey:       p.ourPublic,
			DevicePublicKey: devicePublic,
		},
	}, nil
}

func sealSubTLV(key, plaintext []byte, nonceLabel string) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	copy(nonce[len(nonce)-len(nonceLabel):], nonceLabel)
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func openSubTLV(key, ciphertext []byte, nonceLabel string) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	copy(nonce[len(nonce)-len(nonceLabel):], nonceLabel)
	return aead.Open(nil, nonce, ciphertext, nil)
}
