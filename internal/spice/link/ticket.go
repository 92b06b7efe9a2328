package link

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"

	rerrors "github.com/alxayo/go-spice/internal/errors"
)

// EncryptTicket encrypts password under the server's RSA public key using
// RSA-OAEP/SHA-1, per spec §4.1. pubKeyDER is the 162-byte X.509
// SubjectPublicKeyInfo the server sent in LinkReply. The returned
// ciphertext is exactly the RSA modulus size, as the wire format requires.
//
// This is the one concern in the module built directly on the standard
// library rather than a pack-sourced dependency — see SPEC_FULL.md §4 for
// why no third-party library displaces crypto/x509+crypto/rsa here.
func EncryptTicket(password string, pubKeyDER []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(pubKeyDER)
	if err != nil {
		return nil, rerrors.NewAuthError("link.parse_pubkey", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, rerrors.NewAuthError("link.parse_pubkey", errNotRSA)
	}

	// SPICE tickets are NUL-terminated password bytes.
	plain := append([]byte(password), 0)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, rsaPub, plain, nil)
	if err != nil {
		return nil, rerrors.NewAuthError("link.rsa_encrypt", err)
	}
	return ct, nil
}

type ticketError string

func (e ticketError) Error() string { return string(e) }

const errNotRSA = ticketError("server public key is not RSA")
