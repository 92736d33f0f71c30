// Package hostkey manages the ED25519 host key of the keyval SSH server.
package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	keyFile = "ssh_host_ed25519_key"
	pubFile = keyFile + ".pub"
)

// HostKey is the server's keypair in the forms the SSH server needs.
type HostKey struct {
	Signer      ssh.Signer
	PublicKey   ssh.PublicKey
	Fingerprint string // SHA256:... as printed by ssh-keygen -l
}

// Load reads the host key from dir. If it does not exist yet, a new key is
// generated and written there.
func Load(dir string) (*HostKey, error) {
	privPath := filepath.Join(dir, keyFile)

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading host key: %w", err)
		}
		return generate(dir, privPath, filepath.Join(dir, pubFile))
	}
	return parse(privPEM)
}

func generate(dir, privPath, pubPath string) (*HostKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating host key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating host key dir: %w", err)
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling host key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return nil, fmt.Errorf("writing host key: %w", err)
	}

	hk, err := fromKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(hk.PublicKey), 0644); err != nil {
		return nil, fmt.Errorf("writing host public key: %w", err)
	}
	return hk, nil
}

func parse(privPEM []byte) (*HostKey, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in host key")
	}
	raw, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing host key: %w", err)
	}
	priv, ok := raw.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("host key is not ED25519")
	}
	return fromKey(priv)
}

func fromKey(priv ed25519.PrivateKey) (*HostKey, error) {
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating SSH signer: %w", err)
	}
	pub := signer.PublicKey()
	return &HostKey{
		Signer:      signer,
		PublicKey:   pub,
		Fingerprint: ssh.FingerprintSHA256(pub),
	}, nil
}
