package pairing

import (
	"context"
	"time"

	"github.com/airtap-go/airplay2/internal/apperr"
)

// Transport sends a pairing POST body to path (either /pair-setup or
// /pair-verify) and returns the response body. The caller (internal/session)
// supplies this over the real RTSP connection.
type Transport func(ctx context.Context, path string, body []byte) ([]byte, error)

// Store is the subset of internal/pairstore this package depends on, kept
// narrow so policy.go can be tested without a real database.
type Store interface {
	Load(deviceID string) (PairingIdentity, bool, error)
}

// dictionaryCredentials is the short list of commonly-accepted
// (username, pin) pairs tried when no PIN was supplied and neither
// transient pairing nor a stored identity succeeded (spec.md §4.2 policy
// step 4).
var dictionaryCredentials = []struct {
	Username string
	PIN      string
}{
	{"Pair-Setup", "0000"},
	{"Pair-Setup", "1111"},
	{"AirPlay", "0000"},
	{"admin", "0000"},
}

const dictionaryAttemptDelay = 500 * time.Millisecond

// Authenticate runs the full policy selection order from spec.md §4.2:
// transient PIN 3939, then a stored identity via pair-verify, then a
// user-supplied PIN or, when none was supplied, the credential dictionary.
func Authenticate(ctx context.Context, ourIdentifier, deviceID, userPIN string, store Store, send Transport) (*PairSetupResult, error) {
	if result, err := tryTransient(ctx, ourIdentifier, send); err == nil {
		return result, nil
	}

	if store != nil {
		if identity, ok, err := store.Load(deviceID); err == nil && ok {
			if keys, err := tryPairVerify(ctx, identity, send); err == nil {
				return &PairSetupResult{SessionKeys: keys, Identity: &identity}, nil
			}
		}
	}

	if userPIN != "" {
		for _, username := range []string{"Pair-Setup", "AirPlay", "admin"} {
			if result, err := tryFullPairSetup(ctx, ourIdentifier, username, userPIN, send); err == nil {
				return result, nil
			}
		}
		return nil, apperr.New(apperr.KindAuthenticationFail, "no pairing method succeeded", false)
	}

	for _, cred := range dictionaryCredentials {
		result, err := tryFullPairSetup(ctx, ourIdentifier, cred.Username, cred.PIN, send)
		if err == nil {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindAuthenticationFail, "pairing canceled", false, ctx.Err())
		case <-time.After(dictionaryAttemptDelay):
		}
	}

	return nil, apperr.New(apperr.KindAuthenticationFail, "no pairing method succeeded", false)
}

func tryTransient(ctx context.Context, ourIdentifier string, send Transport) (*PairSetupResult, error) {
	ps := NewPairSetup("Pair-Setup", true, ourIdentifier)

	m2, err := send(ctx, "/pair-setup", ps.BuildM1())
	if err != nil {
		return nil, err
	}
	m3, err := ps.ProcessM2(m2, "3939")
	if err != nil {
		return nil, err
	}
	m4, err := send(ctx, "/pair-setup", m3)
	if err != nil {
		return nil, err
	}
	_, result, err := ps.ProcessM4(m4)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, apperr.New(apperr.KindAuthenticationFail, "transient pairing did not complete at M4", false)
	}
	return result, nil
}

func tryFullPairSetup(ctx context.Context, ourIdentifier, username, pin string, send Transport) (*PairSetupResult, error) {
	ps := NewPairSetup(username, false, ourIdentifier)

	m2, err := send(ctx, "/pair-setup", ps.BuildM1())
	if err != nil {
		return nil, err
	}
	m3, err := ps.ProcessM2(m2, pin)
	if err != nil {
		return nil, err
	}
	m4, err := send(ctx, "/pair-setup", m3)
	if err != nil {
		return nil, err
	}
	m5, _, err := ps.ProcessM4(m4)
	if err != nil {
		return nil, err
	}
	m6, err := send(ctx, "/pair-setup", m5)
	if err != nil {
		return nil, err
	}
	return ps.ProcessM6(m6)
}

func tryPairVerify(ctx context.Context, identity PairingIdentity, send Transport) (SessionKeys, error) {
	v, err := NewVerifySession(identity)
	if err != nil {
		return SessionKeys{}, err
	}

	m1 := EncodeTLV8(
		TLVPair{Type: TLVState, Value: []byte{StateM1}},
		TLVPair{Type: TLVPublicKey, Value: v.PublicKey()},
	)
	m2, err := send(ctx, "/pair-verify", m1)
	if err != nil {
		return SessionKeys{}, err
	}

	tlv := DecodeTLV8(m2)
	devicePublic, ok := tlv[TLVPublicKey]
	if !ok {
		return SessionKeys{}, apperr.New(apperr.KindPairingInvalid, "pair-verify M2 missing public key", false)
	}
	encrypted, ok := tlv[TLVEncryptedData]
	if !ok {
		return SessionKeys{}, apperr.New(apperr.KindPairingInvalid, "pair-verify M2 missing encrypted data", false)
	}

	if err := v.ComputeSharedSecret(devicePublic); err != nil {
		return SessionKeys{}, err
	}

	subTLVKey, err := DeriveSubTLVKey(v.SharedSecret(), "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return SessionKeys{}, err
	}
	plain, err := openSubTLV(subTLVKey, encrypted, "PV-Msg02")
	if err != nil {
		return SessionKeys{}, apperr.Wrap(apperr.KindAuthenticationFail, "pair-verify M2 decryption failed", false, err)
	}

	sub := DecodeTLV8(plain)
	if !VerifyDeviceSignature(identity.DevicePublicKey, devicePublic, string(sub[TLVIdentifier]), v.PublicKey(), sub[TLVSignature]) {
		return SessionKeys{}, apperr.New(apperr.KindAuthenticationFail, "pair-verify device signature invalid", false)
	}

	sig := v.SignTranscript(devicePublic)
	m3SubTLV := EncodeTLV8(
		TLVPair{Type: TLVIdentifier, Value: []byte(identity.Identifier)},
		TLVPair{Type: TLVSignature, Value: sig},
	)
	m3Encrypted, err := sealSubTLV(subTLVKey, m3SubTLV, "PV-Msg03")
	if err != nil {
		return SessionKeys{}, err
	}
	m3 := EncodeTLV8(
		TLVPair{Type: TLVState, Value: []byte{StateM3}},
		TLVPair{Type: TLVEncryptedData, Value: m3Encrypted},
	)
	if _, err := send(ctx, "/pair-verify", m3); err != nil {
		return SessionKeys{}, err
	}

	return DeriveSessionKeys(v.SharedSecret())
}
